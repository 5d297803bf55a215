package main

import (
	"fmt"
	"os"

	"github.com/mwantia/imghost/cmd/imghost/cli"
	"github.com/mwantia/imghost/cmd/imghost/cli/client"
	"github.com/mwantia/imghost/cmd/imghost/cli/server"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewVersionCommand())

	root.AddCommand(server.NewServeCommand())
	root.AddCommand(server.NewConfigCommand())

	root.AddCommand(client.NewImagesCommand())
	root.AddCommand(client.NewDatabaseCommand())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
