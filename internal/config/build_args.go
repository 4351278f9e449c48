package config

import "fmt"

// ModuleName is the name of the module, overridable at build time.
var ModuleName = "github.com/cobaltpay/custody"

// Commit and BuildDate are injected via -ldflags.
var (
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetFormattedBuildArgs returns "<module> @ <commit> (<build date>)".
func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%v @ %v (%v)", ModuleName, Commit, BuildDate)
}
