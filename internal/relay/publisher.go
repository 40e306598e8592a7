package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/navguard/internal/engine"
)

// Publisher is an engine observer that forwards every event to the broker as
// a JSON payload.
type Publisher struct {
	broker *Broker
}

func NewPublisher(broker *Broker) *Publisher {
	return &Publisher{broker: broker}
}

func (p *Publisher) Observe(ev engine.Event) {
	if p.broker.ClientCount() == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Debug("relay: marshal event failed", "kind", ev.Kind, "error", err)
		return
	}
	p.broker.Publish(Message{Kind: string(ev.Kind), Payload: string(payload)})
}
