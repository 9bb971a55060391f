package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is what travels over the bus. Events carry a room event for
// external observers; commands carry admin actions other instances apply.
type Envelope struct {
	Kind       string          `json:"kind"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	RoomID     domain.RoomID   `json:"room_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

const (
	kindEvent   = "event"
	kindCommand = "command"
)

// EventBus publishes room events and admin commands over redis pub/sub.
// It implements ports.EventMirror and ports.CommandPublisher.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	logger     *zap.SugaredLogger

	eventsChannel   string
	commandsChannel string

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewEventBus(client redis.UniversalClient, prefix, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:          client,
		instanceID:      instanceID,
		logger:          logger,
		eventsChannel:   prefix + ":events",
		commandsChannel: prefix + ":commands",
	}
}

func (eb *EventBus) EventsChannel() string   { return eb.eventsChannel }
func (eb *EventBus) CommandsChannel() string { return eb.commandsChannel }

func (eb *EventBus) Mirror(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return eb.publish(ctx, eb.eventsChannel, &Envelope{
		Kind:    kindEvent,
		RoomID:  event.RoomID,
		Type:    string(event.Type),
		Payload: payload,
	})
}

func (eb *EventBus) PublishCommand(ctx context.Context, cmd ports.RemoteCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	return eb.publish(ctx, eb.commandsChannel, &Envelope{
		Kind:    kindCommand,
		RoomID:  cmd.RoomID,
		Type:    string(cmd.Type),
		Payload: payload,
	})
}

func (eb *EventBus) publish(ctx context.Context, channel string, env *Envelope) error {
	env.InstanceID = eb.instanceID
	env.Timestamp = time.Now().UTC()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := eb.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	eb.logger.Debugw("published", "channel", channel, "type", env.Type, "room_id", env.RoomID)
	return nil
}

// SubscribeCommands blocks, applying commands published by other instances
// until ctx is done.
func (eb *EventBus) SubscribeCommands(ctx context.Context, apply func(ctx context.Context, cmd ports.RemoteCommand) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return errors.New("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.commandsChannel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	// Commands published before the subscription is confirmed are lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = eb.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = eb.Close()
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.handleCommand(ctx, msg.Payload, apply)
		}
	}
}

func (eb *EventBus) handleCommand(ctx context.Context, raw string, apply func(ctx context.Context, cmd ports.RemoteCommand) error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		eb.logger.Warnw("failed to unmarshal envelope", "error", err, "payload", raw)
		return
	}
	if env.InstanceID == eb.instanceID || env.Kind != kindCommand {
		return
	}

	var cmd ports.RemoteCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		eb.logger.Warnw("failed to unmarshal command", "error", err, "type", env.Type)
		return
	}
	if err := apply(ctx, cmd); err != nil {
		eb.logger.Warnw("error applying remote command",
			"type", cmd.Type,
			"room_id", cmd.RoomID,
			"from", env.InstanceID,
			"error", err,
		)
		return
	}
	eb.logger.Debugw("applied remote command", "type", cmd.Type, "room_id", cmd.RoomID, "from", env.InstanceID)
}

func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub == nil {
		return nil
	}
	err := eb.pubsub.Close()
	eb.pubsub = nil
	return err
}
