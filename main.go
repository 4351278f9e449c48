package main

import "github.com/cobaltpay/custody/cmd"

func main() {
	cmd.Execute()
}
