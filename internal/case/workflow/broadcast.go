package workflow

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/resolveit/platform/internal/realtime"
	"github.com/resolveit/platform/internal/shared/auth"
	"github.com/resolveit/platform/internal/shared/events"
	"github.com/resolveit/platform/internal/shared/metrics"
	"github.com/resolveit/platform/internal/shared/types"
	"go.uber.org/zap"
)

const exportTimeout = 5 * time.Second

// broadcaster sends committed changes to realtime clients and the event
// stream. Failures are logged and counted, never returned.
type broadcaster struct {
	hub    Publisher
	bus    events.EventBus
	logger *zap.Logger
}

func newBroadcaster(hub Publisher, bus events.EventBus, logger *zap.Logger) *broadcaster {
	if bus == nil {
		bus = events.NopBus{}
	}
	return &broadcaster{hub: hub, bus: bus, logger: logger}
}

func (b *broadcaster) toCase(caseID types.ID, m realtime.Message) {
	if err := b.hub.PublishToCase(caseID, m); err != nil {
		b.publishFailed(caseID, m.Event, err)
	}
}

func (b *broadcaster) global(caseID types.ID, m realtime.Message) {
	if err := b.hub.PublishGlobal(m); err != nil {
		b.publishFailed(caseID, m.Event, err)
	}
}

func (b *broadcaster) publishFailed(caseID types.ID, event string, err error) {
	b.logger.Warn("Realtime publish incomplete",
		zap.String("case_id", caseID.String()),
		zap.String("event", event),
		zap.Error(err),
	)
}

// export writes to the event stream with a context detached from the
// request, since the change it describes is already committed
func (b *broadcaster) export(ctx context.Context, event events.Event, actor *auth.User) {
	if actor != nil {
		event = event.WithActor(actor.ID, actor.Role)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		event = event.WithCorrelation(id)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()

	if err := b.bus.Publish(ctx, event); err != nil {
		metrics.RecordEventExportFailure(event.Type)
		b.logger.Error("Failed to export event",
			zap.String("type", event.Type),
			zap.String("subject", event.Subject),
			zap.Error(err),
		)
	}
}
