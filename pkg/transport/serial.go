package transport

import (
	"time"

	"github.com/goburrow/serial"
)

// SerialConfig mirrors the handful of line parameters the PZEM families
// need: 9600-8-N-1 for MeterA, 9600-8-N-2 for MeterDC (see pzem.Family).
type SerialConfig struct {
	Address  string // e.g. "/dev/ttyUSB0" or "COM3"
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits int
}

// DefaultSerialConfig returns the 9600-8-N-1 configuration MeterA uses. It
// is not family-aware: for MeterDC the caller sets StopBits to 2.
func DefaultSerialConfig(address string) SerialConfig {
	return SerialConfig{
		Address:  address,
		BaudRate: 9600,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
	}
}

// serialLine adapts goburrow/serial.Port to the Line interface Port
// expects; goburrow's Port has no per-call deadline, so SetReadDeadline is
// ignored and every Read uses the fixed timeout configured at Open time.
type serialLine struct {
	port serial.Port
}

// OpenSerial opens the named line with cfg and returns it as a Line ready
// to be handed to transport.New.
func OpenSerial(cfg SerialConfig) (Line, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
		Timeout:  readPollInterval,
	})
	if err != nil {
		return nil, err
	}
	return &serialLine{port: port}, nil
}

func (s *serialLine) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialLine) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialLine) Close() error                { return s.port.Close() }

// SetReadDeadline is a no-op: goburrow/serial.Config.Timeout already fixes
// the per-Read timeout at Open time, and the RX worker's poll interval is
// set to match it.
func (s *serialLine) SetReadDeadline(t time.Time) error { return nil }
