package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the CLI version",
	Example: "aws-toolkit version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aws-toolkit %s on %s/%s\n", version.Version, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
