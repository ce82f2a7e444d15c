// Package transport implements the per-bus TX/RX engine that arbitrates
// access to one physical RS-485 line: a bounded TX queue, a background RX
// reader, and a binary ready-to-send signal enforcing "at most one
// unanswered request in flight per port".
package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Line is the boundary a Port talks to: a duplex byte stream plus a
// deadline knob, the shape both a real serial.Port and the loopback
// transports in null.go satisfy.
type Line interface {
	io.ReadWriter
	io.Closer
	SetReadDeadline(t time.Time) error
}

const (
	// TxQueueDepth bounds how many outstanding requests a Port will
	// buffer before Enqueue starts rejecting with ErrQueueFull.
	TxQueueDepth = 8
	// ReadyToSendTimeout bounds how long a write that expects a reply
	// will wait for the RX worker's ready-to-send signal before writing
	// anyway; a never-answered previous request must not wedge the bus
	// forever.
	ReadyToSendTimeout = 100 * time.Millisecond
	// readPollInterval is the RX worker's read deadline; it must be
	// shorter than ReadyToSendTimeout so the ready-to-send signal is
	// re-armed often enough to be useful.
	readPollInterval = 20 * time.Millisecond
	// maxFrameLen bounds a single RTU frame read from the line.
	maxFrameLen = 256
)

// txRequest is one entry in the bounded TX queue.
type txRequest struct {
	frame []byte
	w4rx  bool // whether a reply is expected; if so, wait for ready-to-send
}

// RxHandler receives every raw frame the RX worker reads off the line,
// already CRC/length validated to the extent decoding is possible; callers
// further decode with pkg/modbus and pkg/pzem. It must not block.
type RxHandler func(raw []byte)

// Port owns one physical or virtual serial line and arbitrates access to it
// exactly the way a single-threaded RTOS task would: one TX worker, one RX
// worker, both reading/writing only this Line, so callers never touch the
// line directly and never need their own locks around it.
type Port struct {
	line Line

	txCh  chan txRequest
	rts   chan struct{} // binary ready-to-send semaphore, capacity 1
	doneC chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	handler RxHandler

	log *zap.Logger
}

// New creates a Port over line. The port is inert until Start is called.
func New(line Line, log *zap.Logger) *Port {
	if log == nil {
		log = zap.NewNop()
	}
	return &Port{
		line: line,
		txCh: make(chan txRequest, TxQueueDepth),
		rts:  make(chan struct{}, 1),
		log:  log.Named("transport.port"),
	}
}

// AttachRxHandler installs the callback invoked for every frame the RX
// worker reads. Only one handler is supported at a time, matching the
// single-consumer contract of the original firmware's attach/detach API.
func (p *Port) AttachRxHandler(h RxHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// DetachRxHandler removes the current RX handler; frames read afterwards
// are silently dropped.
func (p *Port) DetachRxHandler() {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
}

// Start launches the TX and RX worker goroutines. It returns once both are
// running; Stop (or ctx cancellation) tears them down.
func (p *Port) Start(ctx context.Context) {
	p.doneC = make(chan struct{})
	p.wg.Add(2)
	go p.rxWorker(ctx)
	go p.txWorker(ctx)
}

// Stop signals both workers to exit and waits for them to do so. The
// underlying Line is not closed here; callers own its lifecycle.
func (p *Port) Stop() {
	select {
	case <-p.doneC:
		return // already stopped
	default:
	}
	close(p.doneC)
	p.wg.Wait()
}

// Enqueue queues frame for transmission. w4rx marks whether the caller
// expects a reply, which makes the TX worker wait (bounded by
// ReadyToSendTimeout) for the RX worker's ready-to-send signal before
// writing, so a new request is never written on top of an answer still in
// flight. Enqueue never blocks: a full queue returns ErrQueueFull
// immediately.
func (p *Port) Enqueue(frame []byte, w4rx bool) error {
	select {
	case p.txCh <- txRequest{frame: frame, w4rx: w4rx}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Port) txWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.doneC:
			return
		case req := <-p.txCh:
			if req.w4rx {
				select {
				case <-p.rts:
				case <-time.After(ReadyToSendTimeout):
					p.log.Debug("ready-to-send timeout, writing anyway")
				case <-ctx.Done():
					return
				case <-p.doneC:
					return
				}
			}
			if _, err := p.line.Write(req.frame); err != nil {
				p.log.Warn("write failed", zap.Error(err))
			}
		}
	}
}

func (p *Port) rxWorker(ctx context.Context) {
	defer p.wg.Done()
	buf := make([]byte, maxFrameLen)
	give := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.doneC:
			return
		default:
		}

		// Give ready-to-send at the top of the loop, before blocking on the
		// next read, but only on the first pass and after a pass that read
		// data. A read that merely hit the poll deadline means no reply has
		// arrived yet, so the signal is not re-given; the TX worker then
		// waits for the reply or for ReadyToSendTimeout.
		if give {
			select {
			case p.rts <- struct{}{}:
			default:
			}
			give = false
		}

		_ = p.line.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := p.line.Read(buf)
		if err != nil {
			continue // timeout or transient error; just poll again
		}
		if n == 0 {
			continue
		}
		give = true
		raw := make([]byte, n)
		copy(raw, buf[:n])

		p.mu.RLock()
		h := p.handler
		p.mu.RUnlock()
		if h != nil {
			h(raw)
		}
	}
}
