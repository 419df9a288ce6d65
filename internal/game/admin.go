package game

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"

	"github.com/scythe504/roulette-backend/internal"
)

// =============================================================================
// OPERATOR COMMANDS
// =============================================================================

func (e *Engine) authorizeAdmin(secret string) error {
	if e.cfg.AdminSecret == "" {
		return fmt.Errorf("%w: admin commands are disabled", internal.ErrAuth)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(e.cfg.AdminSecret)) != 1 {
		return fmt.Errorf("%w: invalid admin secret", internal.ErrAuth)
	}
	return nil
}

// HandleAdminCommand authenticates an operator connection and runs one
// command, answering on that connection only.
func (e *Engine) HandleAdminCommand(ctx context.Context, client *internal.Client, cmd internal.AdminCommandData) {
	if err := e.authorizeAdmin(cmd.Secret); err != nil {
		log.Printf("[HandleAdminCommand] connection %s: %v", client.Id, err)
		writeTo(client, internal.EventAdminError, internal.ErrorData{Message: err.Error()})
		return
	}
	e.presence.MarkAdmin(client.Id)

	switch cmd.Command {
	case internal.AdminForceSpin, internal.AdminSpinNow:
		roundID, err := e.ForceSpin(cmd.ForcedNumber)
		if err != nil {
			writeTo(client, internal.EventAdminError, internal.ErrorData{Message: err.Error()})
			return
		}
		msg := fmt.Sprintf("Round %d spun by operator", roundID)
		if cmd.ForcedNumber != nil && internal.ValidNumber(*cmd.ForcedNumber) {
			msg = fmt.Sprintf("Round %d forced to %d", roundID, *cmd.ForcedNumber)
		}
		writeTo(client, internal.EventAdminFeedback, internal.FeedbackData{Message: msg})

	case internal.AdminGetStats:
		writeTo(client, internal.EventAdminStats, e.Stats())

	case internal.AdminStartRound:
		var err error
		if e.Running() {
			err = e.OpenRound()
		} else {
			err = e.Start(ctx)
		}
		if err != nil {
			writeTo(client, internal.EventAdminError, internal.ErrorData{Message: err.Error()})
			return
		}
		writeTo(client, internal.EventAdminFeedback, internal.FeedbackData{
			Message: fmt.Sprintf("Round %d started", e.CurrentRound().ID),
		})

	default:
		writeTo(client, internal.EventAdminError, internal.ErrorData{
			Message: fmt.Sprintf("%v: unknown command %q", internal.ErrValidation, cmd.Command),
		})
	}
}

func writeTo[T any](client *internal.Client, eventType string, data T) {
	if err := client.SafeWriteJSON(internal.Message[T]{Type: eventType, Data: data}); err != nil {
		log.Printf("[writeTo] connection %s: %s not sent: %v", client.Id, eventType, err)
	}
}
