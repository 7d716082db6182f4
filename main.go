package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shenjiangwei/rsrcpool/logger"
)

func main() {
	os.Exit(execute(newRootCmd(), os.Stderr))
}

// execute runs cmd, flushes the logger and returns the process exit code
func execute(cmd *cobra.Command, errOut io.Writer) int {
	err := cmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}
