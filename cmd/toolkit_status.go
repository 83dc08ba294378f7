package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

var statusOutput string

// statusCmd shows the active connection.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active connection",
	Long:  "Displays the active connection, its kind and its current state.",

	FParseErrWhitelist: struct{ UnknownFlags bool }{UnknownFlags: false},
	RunE:               executeStatusCommand,
}

type statusReport struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

func executeStatusCommand(cmd *cobra.Command, args []string) error {
	mgr, _, err := buildManager()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := mgr.TryAutoConnect(ctx); err != nil {
		return err
	}
	conn := mgr.ActiveConnection()

	if statusOutput == "json" {
		report := statusReport{}
		if conn != nil {
			// Refresh so the report reflects live credential material.
			if state, err := mgr.RefreshConnectionState(ctx, conn.ID()); err == nil {
				report = statusReport{ID: conn.ID(), Label: conn.Label(), Kind: string(conn.Kind()), State: string(state)}
			} else {
				report = statusReport{ID: conn.ID(), Label: conn.Label(), Kind: string(conn.Kind()), State: string(conn.State())}
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if conn == nil {
		fmt.Println("Not signed in.")
		return nil
	}

	state := conn.State()
	if refreshed, err := mgr.RefreshConnectionState(ctx, conn.ID()); err == nil {
		state = refreshed
	}

	label := lipgloss.NewStyle().Bold(true)
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	fmt.Println(label.Render(conn.Label()))
	fmt.Printf("  %s %s\n", dim.Render("kind: "), string(conn.Kind()))
	fmt.Printf("  %s %s\n", dim.Render("state:"), stateLabel(state))
	fmt.Printf("  %s %s\n", dim.Render("id:   "), conn.ID())

	if ssoConn, ok := conn.(types.SsoConnection); ok {
		fmt.Printf("  %s %s\n", dim.Render("url:  "), ssoConn.StartURL())
	}
	return nil
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format (text or json)")
	RootCmd.AddCommand(statusCmd)
}
