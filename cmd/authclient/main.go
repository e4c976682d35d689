package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-auth-client/cmd/authclient/commands"
)

func main() {
	rootCmd := commands.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
