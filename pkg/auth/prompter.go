package auth

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
)

// UserPrompter asks the user whether to re-authenticate a lapsed connection.
// Implementations must honor ctx cancellation; a declined prompt is reported
// as (false, nil).
type UserPrompter interface {
	ConfirmReauthenticate(ctx context.Context, label string) (bool, error)
}

// terminalPrompter confirms through an interactive terminal form.
type terminalPrompter struct{}

func (terminalPrompter) ConfirmReauthenticate(ctx context.Context, label string) (bool, error) {
	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Connection %q has expired", label)).
			Description("Re-authenticate now?").
			Affirmative("Re-authenticate").
			Negative("Not now").
			Value(&confirmed),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %v", errUtils.ErrUserCancelled, ctx.Err())
		}
		return false, err
	}
	return confirmed, nil
}

// NewTerminalPrompter returns the interactive-terminal prompter.
func NewTerminalPrompter() UserPrompter {
	return terminalPrompter{}
}
