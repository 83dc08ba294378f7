package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// validateCmd checks an ad-hoc access-key/secret pair against STS.
var validateCmd = &cobra.Command{
	Use:   "validate-keys",
	Short: "Validate an access key pair",
	Long:  "Prompts for an access key id and secret access key and validates them against STS without storing anything.",

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeValidateCommand,
}

func executeValidateCommand(cmd *cobra.Command, args []string) error {
	var accessKeyID, secretAccessKey string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Access key ID").
			Value(&accessKeyID),
		huh.NewInput().
			Title("Secret access key").
			EchoMode(huh.EchoModePassword).
			Value(&secretAccessKey),
	))
	if err := form.RunWithContext(cmd.Context()); err != nil {
		return err
	}

	mgr, _, err := buildManager()
	if err != nil {
		return err
	}
	if err := mgr.AuthenticateData(cmd.Context(), accessKeyID, secretAccessKey); err != nil {
		return err
	}
	fmt.Println("Credentials are valid.")
	return nil
}

func init() {
	RootCmd.AddCommand(validateCmd)
}
