package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/bot"
)

// SubjectPrefix is the NATS subject root for orchestrator events. The
// event type is appended, e.g. "bot.events.task_completed".
const SubjectPrefix = "bot.events."

// Publisher bridges the orchestrator's event stream onto NATS so other
// processes can follow the run.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher creates an event publisher
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	return &Publisher{
		nc:     nc,
		logger: logger.Named("events"),
	}
}

// Run drains the event channel until the context ends, publishing each
// event on its typed subject. Publish failures are logged and dropped;
// the event stream must never stall the run.
func (p *Publisher) Run(ctx context.Context, events <-chan bot.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			p.publish(event)
		}
	}
}

func (p *Publisher) publish(event bot.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return
	}

	if err := p.nc.Publish(SubjectPrefix+string(event.Type), data); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Subscribe delivers decoded events of one type to the handler
func Subscribe(nc *nats.Conn, eventType bot.EventType, handler func(bot.Event)) (*nats.Subscription, error) {
	return subscribe(nc, SubjectPrefix+string(eventType), handler)
}

// SubscribeAll delivers all decoded orchestrator events to the handler
func SubscribeAll(nc *nats.Conn, handler func(bot.Event)) (*nats.Subscription, error) {
	return subscribe(nc, SubjectPrefix+">", handler)
}

func subscribe(nc *nats.Conn, subject string, handler func(bot.Event)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var event bot.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
}
