package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

const (
	singleQuote        = "'"
	escapedSingleQuote = "'\\''"
)

var envFormats = []string{"bash", "dotenv", "json"}

var envFormat string

// envCmd exports the active connection's credentials as environment
// variables.
var envCmd = &cobra.Command{
	Use:   "env [connection-id]",
	Short: "Export credentials as environment variables",
	Long:  "Outputs AWS_* environment variables for the referenced IAM connection (default: the active connection), suitable for eval in a shell or writing to a dotenv file.",
	Args:  cobra.MaximumNArgs(1),

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeEnvCommand,
}

func executeEnvCommand(cmd *cobra.Command, args []string) error {
	if !slices.Contains(envFormats, envFormat) {
		return fmt.Errorf("invalid format %q, expected one of %s", envFormat, strings.Join(envFormats, ", "))
	}

	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var conn types.Connection
	if len(args) == 1 {
		conn, err = mgr.GetConnection(ctx, args[0])
		if err != nil {
			return err
		}
	} else {
		if _, err := mgr.TryAutoConnect(ctx); err != nil {
			return err
		}
		conn = mgr.ActiveConnection()
		if conn == nil {
			return errUtils.ErrNoConnection
		}
	}

	iamConn, ok := conn.(types.IamConnection)
	if !ok {
		return fmt.Errorf("%w: %q is an SSO connection without an IAM role; pick a linked role connection", errUtils.ErrUnsupportedOperation, conn.Label())
	}

	env, err := iamConn.EnvironmentVariables(ctx)
	if err != nil {
		return err
	}
	return printEnv(env, envFormat)
}

func printEnv(env map[string]string, format string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	case "dotenv":
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, env[k])
		}
	default:
		for _, k := range keys {
			fmt.Printf("export %s=%s\n", k, shellQuote(env[k]))
		}
	}
	return nil
}

func shellQuote(v string) string {
	return singleQuote + strings.ReplaceAll(v, singleQuote, escapedSingleQuote) + singleQuote
}

func init() {
	envCmd.Flags().StringVar(&envFormat, "format", "bash", "Output format (bash, dotenv, json)")
	RootCmd.AddCommand(envCmd)
}
