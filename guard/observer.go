package guard

import (
	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/registry"
	"github.com/timzifer/ctxguard/telemetry"
)

// poolObserver mirrors registry mutations into logs and telemetry.
type poolObserver struct {
	logger    zerolog.Logger
	collector telemetry.Collector
}

func (o poolObserver) Inserted(h registry.Handle, size int) {
	o.collector.SetActiveContexts(size)
	o.logger.Debug().Stringer("handle", h).Int("total", size).Msg("claim inserted")
}

func (o poolObserver) Evicted(h registry.Handle, size int) {
	o.collector.IncEviction()
	o.collector.SetActiveContexts(size)
	o.logger.Warn().Stringer("handle", h).Int("total", size).Msg("removed oldest rendering context")
}

func (o poolObserver) Removed(h registry.Handle, size int) {
	o.collector.SetActiveContexts(size)
	o.logger.Debug().Stringer("handle", h).Int("total", size).Msg("claim removed")
}

func (o poolObserver) Cleared(count int) {
	o.collector.SetActiveContexts(0)
	o.logger.Debug().Int("cleared", count).Msg("claims cleared")
}
