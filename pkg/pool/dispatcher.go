package pool

import (
	"context"
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"

	"github.com/vortigont/pzem-edl/pkg/modbus"
	"github.com/vortigont/pzem-edl/pkg/pzem"
	"github.com/vortigont/pzem-edl/pkg/transport"
)

type addPortMsg struct {
	id   string
	port *transport.Port
}

type addMeterMsg struct {
	id, portID string
	meter      *pzem.Meter
}

type removeMeterMsg struct{ id string }
type existPortMsg struct{ id string }
type existMeterMsg struct{ id string }
type updateAllMsg struct{}
type snapshotMsg struct{}
type getMeterMsg struct{ id string }

type rxFrameMsg struct {
	portID string
	raw    []byte
}

// replyMsg lets the actor return either a value or an error from
// RequestFuture without the caller needing a type switch per message kind.
type replyMsg struct {
	val any
	err error
}

// dispatcherActor is the single mailbox through which every pool mutation
// and every RX dispatch flows, eliminating the need for an explicit lock
// around the ports/meters/byAddr maps (see the pool package doc comment).
type dispatcherActor struct {
	ports  map[string]*transport.Port
	meters map[string]*pzem.Meter
	// byAddr maps "<portID>:<addr>" to meter id, so an incoming frame can
	// be routed to its meter without scanning the whole registry.
	byAddr    map[string]string
	meterPort map[string]string

	stream *eventstream.EventStream
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func addrKey(portID string, addr byte) string {
	return fmt.Sprintf("%s:%02x", portID, addr)
}

func (d *dispatcherActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		d.ctx, d.cancel = context.WithCancel(context.Background())
	case *actor.Stopping:
		if d.cancel != nil {
			d.cancel()
		}
	case addPortMsg:
		d.handleAddPort(ctx, msg)
	case addMeterMsg:
		d.handleAddMeter(ctx, msg)
	case removeMeterMsg:
		d.handleRemoveMeter(ctx, msg)
	case existPortMsg:
		_, ok := d.ports[msg.id]
		ctx.Respond(ok)
	case existMeterMsg:
		_, ok := d.meters[msg.id]
		ctx.Respond(ok)
	case updateAllMsg:
		d.handleUpdateAll(ctx)
	case snapshotMsg:
		snap := make(map[string]*pzem.Meter, len(d.meters))
		for id, m := range d.meters {
			snap[id] = m
		}
		ctx.Respond(snap)
	case getMeterMsg:
		ctx.Respond(d.meters[msg.id]) // nil if absent; caller checks
	case rxFrameMsg:
		d.handleRxFrame(msg)
	}
}

func (d *dispatcherActor) handleAddPort(ctx actor.Context, msg addPortMsg) {
	if _, exists := d.ports[msg.id]; exists {
		ctx.Respond(fmt.Errorf("pool: port %q already registered", msg.id))
		return
	}
	portID := msg.id
	msg.port.AttachRxHandler(func(raw []byte) {
		ctx.Send(ctx.Self(), rxFrameMsg{portID: portID, raw: raw})
	})
	msg.port.Start(d.ctx)
	d.ports[msg.id] = msg.port
	ctx.Respond(nil)
}

func (d *dispatcherActor) handleAddMeter(ctx actor.Context, msg addMeterMsg) {
	port, ok := d.ports[msg.portID]
	if !ok {
		ctx.Respond(&pzem.Error{Kind: pzem.ErrInvalidConfig, Op: "AddMeter",
			Err: fmt.Errorf("port %q not registered", msg.portID)})
		return
	}
	if _, exists := d.meters[msg.id]; exists {
		ctx.Respond(&pzem.Error{Kind: pzem.ErrInvalidConfig, Op: "AddMeter",
			Err: fmt.Errorf("meter %q already registered", msg.id)})
		return
	}
	addr := msg.meter.Addr()
	if addr < pzem.AddrMin || addr > pzem.AddrMax {
		ctx.Respond(&pzem.Error{Kind: pzem.ErrInvalidConfig, Op: "AddMeter",
			Err: fmt.Errorf("slave address 0x%02x outside [0x%02x, 0x%02x]", addr, pzem.AddrMin, pzem.AddrMax)})
		return
	}
	key := addrKey(msg.portID, addr)
	if existing, exists := d.byAddr[key]; exists {
		ctx.Respond(&pzem.Error{Kind: pzem.ErrInvalidConfig, Op: "AddMeter",
			Err: fmt.Errorf("port %q address 0x%02x already used by meter %q", msg.portID, addr, existing)})
		return
	}
	msg.meter.AttachPort(port, true) // txOnly: dispatch routes RX, not the meter's own handler
	d.meters[msg.id] = msg.meter
	d.meterPort[msg.id] = msg.portID
	d.byAddr[key] = msg.id
	ctx.Respond(nil)
}

func (d *dispatcherActor) handleRemoveMeter(ctx actor.Context, msg removeMeterMsg) {
	meter, ok := d.meters[msg.id]
	if !ok {
		ctx.Respond(nil)
		return
	}
	portID := d.meterPort[msg.id]
	delete(d.byAddr, addrKey(portID, meter.Addr()))
	delete(d.meterPort, msg.id)
	delete(d.meters, msg.id)
	ctx.Respond(nil)
}

func (d *dispatcherActor) handleUpdateAll(ctx actor.Context) {
	for id, meter := range d.meters {
		if err := meter.UpdateMetrics(); err != nil {
			d.log.Debug("update failed", zap.String("meter", id), zap.Error(err))
		}
	}
	ctx.Respond(nil)
}

func (d *dispatcherActor) handleRxFrame(msg rxFrameMsg) {
	// Decode and CRC-check before doing anything else: a stray frame (noise,
	// a reply clipped by a timeout, another bus master's traffic) must never
	// reach a meter's RxSink just because its first byte happens to collide
	// with one we manage.
	resp := modbus.Decode(msg.raw)
	if !resp.Valid {
		return
	}
	id, ok := d.byAddr[addrKey(msg.portID, resp.SlaveAddr)]
	if !ok {
		return // not addressed to any meter we manage
	}
	meter := d.meters[id]
	meter.RxSink(msg.raw)
	d.stream.Publish(UpdateEvent{MeterID: id, Meter: meter, Err: meter.GetState().LastErr})
}
