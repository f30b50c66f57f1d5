package main

import (
	"context"
	"fmt"
	"os"

	"jiranotifier/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "jiranotifier:", err)
		os.Exit(cli.ExitCode(err))
	}
}
