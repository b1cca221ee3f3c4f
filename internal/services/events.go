package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"sitegen-backend/internal/models"
)

// ProjectChannel is the pub/sub channel carrying events for one project.
func ProjectChannel(id uuid.UUID) string {
	return fmt.Sprintf("project_updates:%s", id.String())
}

// EventPublisher fans lifecycle events out over Redis. A nil publisher, or
// one without a client, drops events.
type EventPublisher struct {
	redis *redis.Client
}

func NewEventPublisher(redisClient *redis.Client) *EventPublisher {
	return &EventPublisher{redis: redisClient}
}

// Publish sends a WebSocket update via Redis pub/sub
func (p *EventPublisher) Publish(ctx context.Context, projectID uuid.UUID, evt models.ProjectEvent) {
	if p == nil || p.redis == nil {
		return
	}
	evt.ProjectID = projectID
	data, _ := json.Marshal(evt)
	if err := p.redis.Publish(ctx, ProjectChannel(projectID), string(data)).Err(); err != nil {
		log.Warn().Err(err).Str("project_id", projectID.String()).Msg("Failed to publish project event")
	}
}
