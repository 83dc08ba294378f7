package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

var (
	loginStartURL string
	loginRegion   string
	loginScopes   []string
)

// loginCmd creates and authenticates a fresh SSO connection.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to AWS IAM Identity Center",
	Long:  "Creates an SSO connection for the given start URL and runs the device authorization flow, then makes it the active connection.",

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeLoginCommand,
}

func executeLoginCommand(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	conn, err := mgr.CreateConnection(ctx, types.Profile{
		Kind:      types.ProfileKindSso,
		StartURL:  loginStartURL,
		SsoRegion: loginRegion,
		Scopes:    loginScopes,
	})
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	if _, err := mgr.UseConnection(ctx, conn.ID()); err != nil {
		return err
	}

	success := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	fmt.Println(success.Render("✓ Signed in") + " " + conn.Label())
	return nil
}

func init() {
	loginCmd.Flags().StringVar(&loginStartURL, "start-url", "", "IAM Identity Center start URL")
	loginCmd.Flags().StringVar(&loginRegion, "region", "", "IAM Identity Center region")
	loginCmd.Flags().StringSliceVar(&loginScopes, "scopes", []string{types.ScopeAccountAccess}, "OIDC registration scopes")
	_ = loginCmd.MarkFlagRequired("start-url")
	_ = loginCmd.MarkFlagRequired("region")
	RootCmd.AddCommand(loginCmd)
}
