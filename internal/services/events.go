package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/recipebook/apiserver/internal/logger"
	"github.com/recipebook/apiserver/internal/mq"
	"github.com/recipebook/apiserver/types"
)

// Publisher is the slice of mq.MQ the event flow needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// EventPublisher emits recipe lifecycle events. A nil *EventPublisher or one
// without a backend drops events silently.
type EventPublisher struct {
	pub     Publisher
	channel string
	log     *logger.Logger
}

func NewEventPublisher(pub Publisher, channel string, log *logger.Logger) *EventPublisher {
	return &EventPublisher{pub: pub, channel: channel, log: log}
}

// Publish sends event. Failures are logged and never returned: the change
// the event describes has already committed.
func (p *EventPublisher) Publish(ctx context.Context, eventType types.RecipeEventType, recipe types.Recipe) {
	if p == nil || p.pub == nil {
		return
	}

	event := types.RecipeEvent{
		Type:     eventType,
		RecipeID: recipe.ID,
		UserID:   recipe.UserID,
		At:       time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event", string(eventType)).Msg("failed to encode recipe event")
		return
	}

	attrs := map[string]string{
		mq.AttrType: string(eventType),
		mq.AttrKey:  strconv.Itoa(recipe.ID),
	}
	id, err := p.pub.Publish(ctx, p.channel, data, attrs)
	if err != nil {
		p.log.Warn().Err(err).
			Str("event", string(eventType)).
			Int("recipe_id", recipe.ID).
			Msg("failed to publish recipe event")
		return
	}
	p.log.Debug().Str("event", string(eventType)).Str("message_id", id).Msg("recipe event published")
}
