package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// switchCmd makes another stored connection active.
var switchCmd = &cobra.Command{
	Use:   "switch <connection-id>",
	Short: "Switch the active connection",
	Long:  "Makes the referenced stored connection the active one and persists the choice for future runs.",
	Args:  cobra.ExactArgs(1),

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeSwitchCommand,
}

func executeSwitchCommand(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	conn, err := mgr.UseConnection(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Active connection: %s\n", conn.Label())
	return nil
}

// deleteCmd removes a stored connection.
var deleteCmd = &cobra.Command{
	Use:   "delete <connection-id>",
	Short: "Delete a connection",
	Long:  "Removes a stored connection and its cached credentials. Deleting an SSO connection also removes the IAM role connections linked to it.",
	Args:  cobra.ExactArgs(1),

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeDeleteCommand,
}

func executeDeleteCommand(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	if err := mgr.DeleteConnection(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("Deleted.")
	return nil
}

// reauthCmd re-runs the interactive sign-in for a connection.
var reauthCmd = &cobra.Command{
	Use:   "reauthenticate <connection-id>",
	Short: "Re-authenticate a connection",
	Long:  "Invalidates cached credential material and re-runs the interactive sign-in flow for the referenced connection.",
	Args:  cobra.ExactArgs(1),

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeReauthCommand,
}

func executeReauthCommand(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	conn, err := mgr.Reauthenticate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Re-authenticated: %s\n", conn.Label())
	return nil
}

func init() {
	RootCmd.AddCommand(switchCmd)
	RootCmd.AddCommand(deleteCmd)
	RootCmd.AddCommand(reauthCmd)
}
