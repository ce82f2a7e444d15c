package transport

import "errors"

// ErrQueueFull is returned by Port.Enqueue when the TX queue already holds
// TxQueueDepth unsent requests.
var ErrQueueFull = errors.New("transport: tx queue full")
