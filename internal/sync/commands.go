package sync

import (
	"context"

	"careclock/internal/command"
)

// consumeCommands parses newly-cached command events, applies the valid
// ones to the settings layer, and retires their source events. Local
// deletion always happens once a command is applied so it is never
// reprocessed; remote deletion is only a visual acknowledgment to the
// caregiver, so failures are logged and not propagated. Invalid command
// events are deliberately left in place: an un-vanishing event is the
// caregiver's signal to fix the syntax.
func (e *Engine) consumeCommands(ctx context.Context, calendarID string) int {
	events, err := e.repo.CommandEvents(ctx)
	if err != nil {
		e.logger.Warn("Failed to load command events", "error", err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	// CommandEvents returns most-recent-start first; apply oldest first so
	// the most recent command wins per setting.
	var commands []command.Command
	var appliedIDs []string
	for i := len(events) - 1; i >= 0; i-- {
		cmd := command.Parse(events[i].Title)
		if cmd.Kind == command.KindInvalid {
			e.logger.Warn("Leaving invalid command event in place",
				"event_id", events[i].ID,
				"title", cmd.Raw,
				"reason", cmd.Reason,
			)
			continue
		}
		commands = append(commands, cmd)
		appliedIDs = append(appliedIDs, events[i].ID)
	}

	if len(commands) == 0 {
		return 0
	}

	if err := e.settings.Apply(ctx, commands); err != nil {
		e.logger.Error("Failed to apply configuration commands", "error", err)
		return 0
	}

	for i, id := range appliedIDs {
		if err := e.repo.DeleteByID(ctx, id); err != nil {
			e.logger.Error("Failed to retire command event locally", "event_id", id, "error", err)
			continue
		}
		if err := e.provider.DeleteEvent(ctx, calendarID, id); err != nil {
			e.logger.Warn("Failed to retire command event remotely", "event_id", id, "error", err)
		}
		e.logger.Info("Applied configuration command",
			"event_id", id,
			"kind", commands[i].Kind.String(),
		)
	}

	return len(commands)
}
