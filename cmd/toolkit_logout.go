package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// logoutCmd signs the active connection out.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out of the active connection",
	Long:  "Signs SSO tokens out server-side, drops cached credentials and clears the active connection. Does nothing when no connection is active.",

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeLogoutCommand,
}

func executeLogoutCommand(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := mgr.TryAutoConnect(ctx); err != nil {
		return err
	}
	if mgr.ActiveConnection() == nil {
		fmt.Println("Not signed in.")
		return nil
	}
	if err := mgr.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func init() {
	RootCmd.AddCommand(logoutCmd)
}
