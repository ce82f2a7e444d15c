// Package pool implements the multi-port, multi-meter dispatcher: it owns a
// set of pkg/transport.Ports and pkg/pzem.Meters, routes every decoded RX
// frame to the meter it belongs to, and fans out a callback per update.
//
// Dispatch and registry mutation are both funneled through a single
// github.com/asynkron/protoactor-go actor mailbox (dispatcherActor), the
// same pattern the teacher project uses for its MasterOfPuppetsActor: since
// only one goroutine ever touches the pool's maps, no separate RWMutex is
// needed to keep concurrent reads (dispatch) and writes (AddMeter/AddPort)
// safe.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"

	"github.com/vortigont/pzem-edl/pkg/pollsched"
	"github.com/vortigont/pzem-edl/pkg/pzem"
	"github.com/vortigont/pzem-edl/pkg/transport"
)

// UpdateEvent is published on the Pool's EventStream every time a frame
// that passes CRC is routed to one of the pool's meters, whether the meter
// then parses it successfully or not (Err). Frames that fail CRC or match
// no meter, and requests that get no reply, publish nothing. Subscribers
// (such as internal/collector) get it instead of being wired to each meter
// individually.
type UpdateEvent struct {
	MeterID string
	Meter   *pzem.Meter
	Err     error
}

// Pool owns a set of ports and meters and dispatches RX frames to the
// right meter. Its public methods are synchronous calls into the
// underlying actor's mailbox; from the caller's point of view it behaves
// like a plain mutex-protected registry.
type Pool struct {
	system      *actor.ActorSystem
	pid         *actor.PID
	eventStream *eventstream.EventStream
	sched       *pollsched.Scheduler
	log         *zap.Logger

	requestTimeout time.Duration
}

// New creates a Pool. The returned Pool is ready to use; call Stop when
// done to release the underlying actor and scheduler.
func New(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	system := actor.NewActorSystem()
	stream := &eventstream.EventStream{}
	d := &dispatcherActor{
		ports:     make(map[string]*transport.Port),
		meters:    make(map[string]*pzem.Meter),
		byAddr:    make(map[string]string),
		meterPort: make(map[string]string),
		stream:    stream,
		log:       log.Named("pool"),
	}
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return d }))
	sched := pollsched.New(log)
	sched.Start(context.Background())
	return &Pool{
		system:         system,
		pid:            pid,
		eventStream:    stream,
		sched:          sched,
		log:            log.Named("pool"),
		requestTimeout: 2 * time.Second,
	}
}

// Stop tears down the pool's background scheduler and actor. Stopping the
// actor cancels the context AddPort started each attached port with, so the
// ports' TX/RX workers exit; their Lines are not closed, and callers that
// created them still own them.
func (p *Pool) Stop() {
	p.sched.Stop()
	p.system.Root.Stop(p.pid)
}

// Subscribe registers fn to receive every UpdateEvent the pool publishes.
// It returns a handle usable with Unsubscribe.
func (p *Pool) Subscribe(fn func(UpdateEvent)) *eventstream.Subscription {
	return p.eventStream.Subscribe(func(evt interface{}) {
		if ue, ok := evt.(UpdateEvent); ok {
			fn(ue)
		}
	})
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (p *Pool) Unsubscribe(sub *eventstream.Subscription) {
	p.eventStream.Unsubscribe(sub)
}

// AddPort registers port under id and starts its TX/RX workers. id must be
// unique among ports currently in the pool.
func (p *Pool) AddPort(ctx context.Context, id string, port *transport.Port) error {
	return p.request(ctx, addPortMsg{id: id, port: port})
}

// AddMeter attaches meter to the pool under id, routed through the port
// registered as portID. id must be unique among meters currently in the
// pool, and portID must already have been added with AddPort.
func (p *Pool) AddMeter(ctx context.Context, id, portID string, meter *pzem.Meter) error {
	return p.request(ctx, addMeterMsg{id: id, portID: portID, meter: meter})
}

// RemoveMeter detaches the meter registered under id. Removing an id that
// does not exist is not an error.
func (p *Pool) RemoveMeter(ctx context.Context, id string) error {
	return p.request(ctx, removeMeterMsg{id: id})
}

// ExistPort reports whether a port is registered under id.
func (p *Pool) ExistPort(ctx context.Context, id string) (bool, error) {
	res, err := p.requestReply(ctx, existPortMsg{id: id})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// ExistMeter reports whether a meter is registered under id.
func (p *Pool) ExistMeter(ctx context.Context, id string) (bool, error) {
	res, err := p.requestReply(ctx, existMeterMsg{id: id})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// Snapshot returns the set of meters currently registered, keyed by id.
// The returned map is a copy; the *pzem.Meter values are shared and safe
// for concurrent use since pzem.Meter guards its own state.
func (p *Pool) Snapshot(ctx context.Context) (map[string]*pzem.Meter, error) {
	res, err := p.requestReply(ctx, snapshotMsg{})
	if err != nil {
		return nil, err
	}
	return res.(map[string]*pzem.Meter), nil
}

// GetMeter returns the meter registered under id, or nil if none exists.
func (p *Pool) GetMeter(ctx context.Context, id string) (*pzem.Meter, error) {
	res, err := p.requestReply(ctx, getMeterMsg{id: id})
	if err != nil {
		return nil, err
	}
	m, _ := res.(*pzem.Meter)
	return m, nil
}

// UpdateAll sends an UpdateMetrics request to every meter in the pool. It
// is what the pool-wide poll scheduler (SetPollPeriod) calls on every tick,
// but is exported so a caller can also trigger an out-of-band sweep.
func (p *Pool) UpdateAll(ctx context.Context) error {
	return p.request(ctx, updateAllMsg{})
}

// SetPollPeriod starts (period > 0) or stops (period <= 0) the pool-wide
// poll scheduler, which calls UpdateAll on every tick. This is independent
// of any individual meter's own Autopoll.
func (p *Pool) SetPollPeriod(period time.Duration) error {
	return p.sched.SetPeriod(func(ctx context.Context) {
		if err := p.UpdateAll(ctx); err != nil {
			p.log.Warn("poll sweep failed", zap.Error(err))
		}
	}, period)
}

func (p *Pool) request(ctx context.Context, msg any) error {
	_, err := p.requestReply(ctx, msg)
	return err
}

func (p *Pool) requestReply(ctx context.Context, msg any) (any, error) {
	timeout := p.requestTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	future := p.system.Root.RequestFuture(p.pid, msg, timeout)
	res, err := future.Result()
	if err != nil {
		return nil, fmt.Errorf("pool: request failed: %w", err)
	}
	if asErr, ok := res.(error); ok {
		return nil, asErr
	}
	if wrapped, ok := res.(replyMsg); ok {
		return wrapped.val, wrapped.err
	}
	return res, nil
}
