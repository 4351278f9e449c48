package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cobaltpay/custody/internal/config"
)

const probeTimeout = 5 * time.Second

func newLiveness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Checks whether the local server process accepts requests",
		Run: func(cmd *cobra.Command, _ []string) {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				log.Error().Err(err).Msg("Failed to parse verbose flag")
				os.Exit(1)
			}

			runProbe(cmd.Context(), "/-/healthy", verbose)
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Prints the response body")

	return cmd
}

// runProbe issues a management request against the locally listening server
// and exits non-zero unless it answers 200. Used as container health check.
func runProbe(ctx context.Context, path string, verbose bool) {
	cfg := config.DefaultServiceConfigFromEnv()

	host := cfg.Echo.ListenAddress
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}

	target := url.URL{
		Scheme:   "http",
		Host:     host,
		Path:     path,
		RawQuery: url.Values{"mgmt-secret": []string{cfg.Management.Secret}}.Encode(),
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build probe request")
		os.Exit(1)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Probe request failed")
		os.Exit(1)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read probe response")
		os.Exit(1)
	}

	if verbose {
		fmt.Println(string(body))
	}

	if res.StatusCode != http.StatusOK {
		log.Error().Int("status", res.StatusCode).Str("path", path).Msg("Probe returned non-OK status")
		os.Exit(1)
	}
}
