package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-runtime/internal/transition"
)

// Command names, the last segment of the command topic.
const (
	CommandApply   = "apply"
	CommandRestore = "restore"
)

// DefaultCommandTimeout bounds one command's transition.
const DefaultCommandTimeout = time.Minute

// Applier runs transitions. *transition.Engine satisfies it.
type Applier interface {
	Apply(ctx context.Context, recipeID string) (*transition.Report, error)
	RestoreCommitted(ctx context.Context) (*transition.Report, error)
}

// Subscriber is the MQTT subscription side. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// ApplyCommand is the payload of the apply command.
type ApplyCommand struct {
	RecipeID string `json:"recipe_id"`
}

// Commands executes operator commands received over MQTT.
type Commands struct {
	ctx     context.Context
	applier Applier
	logger  Logger
	timeout time.Duration
}

// NewCommands returns a command handler. Commands run with a context
// derived from ctx, so cancelling it aborts in-flight transitions.
func NewCommands(ctx context.Context, applier Applier, logger Logger) *Commands {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Commands{ctx: ctx, applier: applier, logger: logger, timeout: DefaultCommandTimeout}
}

// Subscribe registers Handle for every command topic.
func (c *Commands) Subscribe(sub Subscriber) error {
	if err := sub.Subscribe(mqtt.Topics{}.AllCommands(), 1, c.Handle); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Handle executes the command named by topic.
func (c *Commands) Handle(topic string, payload []byte) error {
	name := strings.TrimPrefix(topic, mqtt.Topics{}.Command(""))
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	var (
		report *transition.Report
		err    error
	)
	switch name {
	case CommandApply:
		var cmd ApplyCommand
		if jerr := json.Unmarshal(payload, &cmd); jerr != nil || cmd.RecipeID == "" {
			return fmt.Errorf("%w: apply needs {\"recipe_id\": ...}", ErrInvalidCommand)
		}
		c.logger.Info("apply requested over MQTT", "recipe_id", cmd.RecipeID)
		report, err = c.applier.Apply(ctx, cmd.RecipeID)
	case CommandRestore:
		c.logger.Info("restore requested over MQTT")
		report, err = c.applier.RestoreCommitted(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	if err != nil {
		return fmt.Errorf("%s command: %w", name, err)
	}
	c.logger.Info("command applied", "command", name, "recipe_id", report.RecipeID, "transition_id", report.ID)
	return nil
}
