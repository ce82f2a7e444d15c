package transport

import (
	"errors"
	"io"
	"sync"
	"time"
)

var errReadTimeout = errors.New("transport: null line read timeout")

// nullLine is an in-memory Line with no baud-rate timing: every Write is
// handed to the peer's read queue immediately. Used standalone it is a
// bottomless sink (NewNullLine); paired with NewNullCable it becomes a
// virtual null-modem between two Ports, letting tests drive a simulated
// meter through the exact same Port/TX/RX machinery a real serial line
// would use.
type nullLine struct {
	mu     sync.Mutex
	rxCh   chan []byte
	peer   *nullLine
	closed bool
}

// NewNullLine returns a Line whose writes are discarded and whose reads
// always time out; useful as a standalone placeholder where a Line is
// required but no traffic is expected.
func NewNullLine() Line {
	return &nullLine{rxCh: make(chan []byte, TxQueueDepth)}
}

// NewNullCable returns two Lines cross-connected like a null-modem cable:
// anything written to a arrives as a read on b, and vice versa.
func NewNullCable() (a, b Line) {
	la := &nullLine{rxCh: make(chan []byte, TxQueueDepth)}
	lb := &nullLine{rxCh: make(chan []byte, TxQueueDepth)}
	la.peer = lb
	lb.peer = la
	return la, lb
}

func (l *nullLine) Write(p []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	if l.peer == nil {
		return len(p), nil // bottomless sink
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case l.peer.rxCh <- cp:
	default:
		// peer's inbound queue is full; drop it, matching the original
		// NullQ's "reject and discard when full" behavior rather than
		// blocking the writer.
	}
	return len(p), nil
}

func (l *nullLine) Read(p []byte) (int, error) {
	select {
	case data := <-l.rxCh:
		n := copy(p, data)
		return n, nil
	case <-time.After(readPollInterval):
		return 0, errReadTimeout
	}
}

func (l *nullLine) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *nullLine) SetReadDeadline(t time.Time) error { return nil }
