package payload

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/dtn-simulator/internal/logging"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// Dispatcher routes delivered bundle payloads to the payload layer of the
// node they reached.
type Dispatcher struct {
	routers map[model.NodeID]*RouterHandler
	log     logging.Logger
	// Unhandled counts deliveries with no registered handler or an
	// unknown payload kind.
	Unhandled int64
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(log logging.Logger) *Dispatcher {
	return &Dispatcher{
		routers: make(map[model.NodeID]*RouterHandler),
		log:     logging.OrNoop(log),
	}
}

// Register attaches the payload layer of a router node.
func (d *Dispatcher) Register(h *RouterHandler) {
	d.routers[h.ID()] = h
}

// Router returns the payload layer registered for id.
func (d *Dispatcher) Router(id model.NodeID) (*RouterHandler, bool) {
	h, ok := d.routers[id]
	return h, ok
}

// DeliverPayload hands b's payload to node id.
func (d *Dispatcher) DeliverPayload(ctx context.Context, id model.NodeID, b *model.Bundle) {
	h, ok := d.routers[id]
	if !ok {
		d.Unhandled++
		d.log.Warn(ctx, "payload delivered to node without payload handler", logging.Int64("node", int64(id)))
		return
	}
	switch p := b.Payload.(type) {
	case *model.MappingPayload:
		h.MergeMappings(p.Table)
	case *model.ClientMessage:
		h.HandleClientMessage(ctx, p)
	case *model.ClientBeacon:
		h.HandleBeacon(p.ClientID)
	case model.RawPayload:
		h.HandleRaw(ctx, p)
	case nil:
		h.HandleRaw(ctx, nil)
	default:
		d.Unhandled++
		d.log.Warn(ctx, "unknown payload kind",
			logging.Int64("node", int64(id)),
			logging.String("kind", fmt.Sprintf("%T", p)))
	}
}
