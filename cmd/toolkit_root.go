// Package cmd implements the aws-toolkit CLI: connection management commands
// over the auth connection manager.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/credentials"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/store"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/config"
)

var logLevelFlag string

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "aws-toolkit",
	Short: "Manage AWS connections",
	Long:  `aws-toolkit manages the connections (SSO and IAM) the toolkit uses to reach AWS, including sign-in, switching and credential export.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		level, err := log.ParseLevel(logLevelFlag)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevelFlag, err)
		}
		log.SetLevel(level)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and runs it. Called by
// main.main().
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevelFlag, "logs-level", "warn", "Log level (debug, info, warn, error)")
}

// buildManager wires the settings, profile store, token cache and connection
// manager for one command invocation.
func buildManager() (types.ConnectionManager, *config.Settings, error) {
	settings, err := config.New("")
	if err != nil {
		return nil, nil, err
	}

	storagePath := settings.StoragePath()
	if storagePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		storagePath = filepath.Join(home, ".aws-toolkit", "connections.json")
	}
	storage, err := store.NewFileStorage(storagePath)
	if err != nil {
		return nil, nil, err
	}
	profiles := store.NewProfileStore(storage, "auth")

	tokenCache, err := credentials.NewTokenCache("")
	if err != nil {
		return nil, nil, err
	}

	mgr, err := auth.New(profiles, tokenCache, settings)
	if err != nil {
		return nil, nil, err
	}
	return mgr, settings, nil
}
