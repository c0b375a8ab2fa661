/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/recipebook/apiserver/config"
	"github.com/recipebook/apiserver/internal/logger"
	"github.com/recipebook/apiserver/internal/mq"
	"github.com/recipebook/apiserver/types"
	"github.com/spf13/cobra"
)

// eventsCmd tails the recipe event channel.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Log recipe events from the message queue",
	Long: `Subscribes to the configured recipe event channel and logs every
event until interrupted. Usage:

	MQ_BACKEND=rabbitmq recipebook events
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log := logger.NewLogger("events", cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			if errors.Is(err, mq.ErrDisabled) {
				return errors.New("MQ_BACKEND must be set to rabbitmq or pubsub")
			}
			return err
		}
		defer func() {
			_ = queue.Close()
		}()

		log.Info().Str("channel", cfg.MQ.Channel).Msg("listening for recipe events")
		err = queue.Subscribe(ctx, cfg.MQ.Channel, logRecipeEvent(log))
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscribe %s: %w", cfg.MQ.Channel, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

// logRecipeEvent acknowledges every message. Undecodable payloads are
// logged and dropped rather than redelivered.
func logRecipeEvent(log *logger.Logger) mq.Handler {
	return func(_ context.Context, msg mq.Message) error {
		var event types.RecipeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed recipe event")
			return nil
		}
		log.Info().
			Str("message_id", msg.ID).
			Str("type", string(event.Type)).
			Int("recipe_id", event.RecipeID).
			Int("user_id", event.UserID).
			Time("at", event.At).
			Msg("recipe event")
		return nil
	}
}
