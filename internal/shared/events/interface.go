package events

import (
	"context"
	"fmt"

	"github.com/resolveit/platform/internal/shared/config"
)

// EventBus defines the interface for event publishing
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus creates the bus selected by cfg.Driver
func NewEventBus(cfg config.EventsConfig) (EventBus, error) {
	switch cfg.Driver {
	case "", "none":
		return NopBus{}, nil
	case "kurrentdb":
		return NewBus(cfg)
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka driver requires at least one broker")
		}
		return NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

// NopBus discards every event
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) error { return nil }
func (NopBus) Close()                               {}
func (NopBus) Health() error                        { return nil }

var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*KafkaBus)(nil)
	_ EventBus = NopBus{}
)
