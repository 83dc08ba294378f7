package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

var listTraverse bool

// listCmd lists stored connections.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections",
	Long:  "Lists every stored connection. With --traverse, valid account-scoped SSO connections are expanded into the IAM role connections reachable through them.",

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeListCommand,
}

func executeListCommand(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := mgr.TryAutoConnect(ctx); err != nil {
		return err
	}
	active := mgr.ActiveConnection()

	idStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	marker := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).SetString("●")

	printConn := func(conn types.Connection) {
		prefix := "  "
		if active != nil && active.ID() == conn.ID() {
			prefix = marker.Render() + " "
		}
		fmt.Printf("%s%-40s %-15s %s\n", prefix, conn.Label(), stateLabel(conn.State()), idStyle.Render(conn.ID()))
	}

	if listTraverse {
		for conn := range mgr.ListAndTraverseConnections(ctx) {
			printConn(conn)
		}
		return nil
	}

	conns, err := mgr.ListConnections(ctx)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		fmt.Println("No connections. Run `aws-toolkit login` to create one.")
		return nil
	}
	for _, conn := range conns {
		printConn(conn)
	}
	return nil
}

func stateLabel(state types.ConnectionState) string {
	switch state {
	case types.StateValid:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render(string(state))
	case types.StateInvalid:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(string(state))
	case types.StateAuthenticating:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render(string(state))
	default:
		return string(state)
	}
}

func init() {
	listCmd.Flags().BoolVar(&listTraverse, "traverse", false, "Expand SSO connections into linked IAM role connections")
	RootCmd.AddCommand(listCmd)
}
