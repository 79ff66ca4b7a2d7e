package main

import (
	"fmt"
	"os"

	"github.com/dfs-io/dfsd/cmd/dfsd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dfsd:", err)
		os.Exit(1)
	}
}
