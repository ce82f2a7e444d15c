package pzem

import (
	"sync"
	"time"

	"github.com/vortigont/pzem-edl/pkg/modbus"
	"github.com/vortigont/pzem-edl/pkg/transport"
	"go.uber.org/zap"
)

// DefaultAlarmPassword is the fixed value the firmware expects on the wire
// for the calibration command; it is not a secret, just a guard against
// sending 0x41 by accident.
const DefaultAlarmPassword uint16 = 0x3721

// Callback is invoked by a Meter's RX sink after every received reply,
// whether it succeeded or not. err is non-nil exactly when the reply failed
// (CRC, parse, modbus exception); a request that gets no reply at all
// produces no callback. Callback must not block.
type Callback func(m *Meter, err error)

// Meter is one PZEM slave: its family-specific register map plus the
// shared bookkeeping (address, last state, autopoll) every meter needs
// regardless of family. It owns no Port; AttachPort wires it to one for
// standalone use, or a pool.Pool wires many meters to shared ports itself.
type Meter struct {
	mu      sync.RWMutex
	family  Family
	addr    byte
	metrics Metrics
	state   State
	cb      Callback

	port *transport.Port

	pollMu     sync.Mutex
	pollPeriod time.Duration
	pollTimer  *time.Timer
	pollStopCh chan struct{}

	log *zap.Logger
}

// NewACMeter constructs a MeterA (AC, PZEM-004T-class) meter at addr.
func NewACMeter(addr byte, log *zap.Logger) *Meter {
	return newMeter(FamilyAC, addr, log)
}

// NewDCMeter constructs a MeterDC (DC/shunt, PZEM-003-class) meter at addr.
func NewDCMeter(addr byte, log *zap.Logger) *Meter {
	return newMeter(FamilyDC, addr, log)
}

func newMeter(f Family, addr byte, log *zap.Logger) *Meter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Meter{
		family: f,
		addr:   addr,
		state:  State{Addr: addr, Family: f},
		log:    log.Named("pzem.meter"),
	}
}

// Family reports whether this is a MeterA (AC) or MeterDC meter.
func (m *Meter) Family() Family {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.family
}

// Addr reports the meter's current bus address.
func (m *Meter) Addr() byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addr
}

// SetCallback installs the function invoked after every RxSink update.
func (m *Meter) SetCallback(cb Callback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// AttachPort wires this meter directly to a port for standalone use
// (no pool.Pool involved): it installs RxSink as the port's RX handler. It
// does not start the port; the caller starts it with Port.Start. txOnly
// skips installing the RX handler, for a meter whose port's RX side is
// handled elsewhere (pool.Pool's dispatcher, or another meter).
func (m *Meter) AttachPort(p *transport.Port, txOnly bool) {
	m.mu.Lock()
	m.port = p
	m.mu.Unlock()
	if !txOnly {
		p.AttachRxHandler(m.RxSink)
	}
}

// DetachPort removes the port association. It does not stop the port: the
// port may be shared with other meters.
func (m *Meter) DetachPort() {
	m.mu.Lock()
	p := m.port
	m.port = nil
	m.mu.Unlock()
	if p != nil {
		p.DetachRxHandler()
	}
}

// UpdateMetrics sends the family's full-metrics read request. The result
// arrives later through RxSink and the installed Callback; UpdateMetrics
// itself only reports whether the request could be queued.
func (m *Meter) UpdateMetrics() error {
	m.mu.RLock()
	p := m.port
	addr := m.addr
	family := m.family
	m.mu.RUnlock()
	if p == nil {
		return newErr(ErrInvalidConfig, "UpdateMetrics", errNoPort)
	}
	var frame modbus.Frame
	switch family {
	case FamilyAC:
		frame = ACReadFrame(addr)
	case FamilyDC:
		frame = DCReadFrame(addr)
	}
	if err := p.Enqueue(frame.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "UpdateMetrics", err)
	}
	m.mu.Lock()
	m.state.LastCmd = CmdUpdateMetrics
	m.mu.Unlock()
	return nil
}

// RxSink is the meter's response handler: it decodes raw, parses the
// family-specific metrics, updates State/Metrics and invokes the installed
// Callback. It never panics on malformed input and never blocks.
func (m *Meter) RxSink(raw []byte) {
	resp := modbus.Decode(raw)
	m.handleResponse(resp)
}

func (m *Meter) handleResponse(resp modbus.Response) {
	m.mu.RLock()
	addr := m.addr
	family := m.family
	m.mu.RUnlock()

	if !resp.Valid {
		m.finish(resp.Err)
		return
	}
	if resp.SlaveAddr != addr {
		return // not addressed to this meter; another meter on the bus owns it
	}
	if resp.IsError {
		m.finish(newErr(ErrModbus, "RxSink", errException(resp.Exception)))
		return
	}

	switch resp.Function {
	case modbus.FuncReadInputRegisters:
		var (
			metrics Metrics
			err     error
		)
		switch family {
		case FamilyAC:
			metrics, err = wrapAC(ParseACMetrics(resp))
		case FamilyDC:
			metrics, err = wrapDC(ParseDCMetrics(resp))
		}
		if err != nil {
			m.finish(err)
			return
		}
		m.mu.Lock()
		m.metrics = metrics
		m.state.UpdatedAt = time.Now().UnixMilli()
		m.mu.Unlock()
		m.finish(nil)
	case modbus.FuncReadHoldingRegisters:
		switch family {
		case FamilyAC:
			opts, err := ParseACOptions(resp)
			if err != nil {
				m.finish(err)
				return
			}
			m.mu.Lock()
			m.state.ACOptions = opts
			m.state.UpdatedAt = time.Now().UnixMilli()
			m.mu.Unlock()
		case FamilyDC:
			opts, err := ParseDCOptions(resp)
			if err != nil {
				m.finish(err)
				return
			}
			m.mu.Lock()
			m.state.DCOptions = opts
			m.state.UpdatedAt = time.Now().UnixMilli()
			m.mu.Unlock()
		}
		m.finish(nil)
	case modbus.FuncWriteSingleRegister:
		m.applyWriteEcho(resp, family)
		m.finish(nil)
	case modbus.FuncResetEnergy, modbus.FuncCalibrate:
		m.finish(nil)
	}
}

// applyWriteEcho updates the option field a Write Single Register response
// echoes back (register address and the value the meter actually holds),
// the same way the original firmware's WSR handler re-derives state from
// the echoed register rather than trusting the request that was sent.
func (m *Meter) applyWriteEcho(resp modbus.Response, family Family) {
	regs := resp.Registers()
	if len(regs) != 2 {
		return
	}
	reg, value := regs[0], regs[1]
	m.mu.Lock()
	defer m.mu.Unlock()
	switch family {
	case FamilyAC:
		if m.state.ACOptions == nil {
			m.state.ACOptions = &ACOptions{}
		}
		switch reg {
		case pz004HoldAlarmThresh:
			m.state.ACOptions.AlarmThresholdW = value
		case pz004HoldAddr:
			m.state.ACOptions.Addr = byte(value)
		}
	case FamilyDC:
		if m.state.DCOptions == nil {
			m.state.DCOptions = &DCOptions{}
		}
		switch reg {
		case pz003HoldAlarmHigh:
			m.state.DCOptions.AlarmHighV = value
		case pz003HoldAlarmLow:
			m.state.DCOptions.AlarmLowV = value
		case pz003HoldAddr:
			m.state.DCOptions.Addr = byte(value)
		case pz003HoldShuntRange:
			m.state.DCOptions.Shunt = ShuntRange(value)
		}
	}
	m.state.UpdatedAt = time.Now().UnixMilli()
}

func wrapAC(m *ACMetrics, err error) (Metrics, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func wrapDC(m *DCMetrics, err error) (Metrics, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Meter) finish(err error) {
	m.mu.Lock()
	m.state.LastErr = err
	cb := m.cb
	m.mu.Unlock()
	if cb != nil {
		cb(m, err)
	}
}

// GetMetrics returns a snapshot of the most recent parsed metrics, or nil
// if none has been received yet.
func (m *Meter) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return nil
	}
	return m.metrics.Clone()
}

// GetState returns a snapshot of the meter's bookkeeping state.
func (m *Meter) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetAddress requests the meter adopt newAddr. If newAddr falls outside
// [AddrMin, AddrMax] the request is not sent and the meter silently keeps
// its current address, matching the original firmware's lenient fallback
// rather than raising an error for an out-of-range target.
func (m *Meter) SetAddress(newAddr byte) error {
	if newAddr < AddrMin || newAddr > AddrMax {
		return nil
	}
	m.mu.RLock()
	p := m.port
	addr := m.addr
	family := m.family
	m.mu.RUnlock()
	if p == nil {
		return newErr(ErrInvalidConfig, "SetAddress", errNoPort)
	}
	var frame modbus.Frame
	switch family {
	case FamilyAC:
		frame = ACSetAddressFrame(addr, newAddr)
	case FamilyDC:
		frame = DCSetAddressFrame(addr, newAddr)
	}
	if err := p.Enqueue(frame.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "SetAddress", err)
	}
	m.mu.Lock()
	m.addr = newAddr
	m.state.Addr = newAddr
	m.state.LastCmd = CmdSetAddress
	m.mu.Unlock()
	return nil
}

// GetOptions requests a refresh of the holding-register settings block
// (alarm threshold(s), bus address, and for MeterDC the shunt range). The
// result lands in State.ACOptions/State.DCOptions via RxSink.
func (m *Meter) GetOptions() error {
	m.mu.RLock()
	p := m.port
	addr := m.addr
	family := m.family
	m.mu.RUnlock()
	if p == nil {
		return newErr(ErrInvalidConfig, "GetOptions", errNoPort)
	}
	var frame modbus.Frame
	switch family {
	case FamilyAC:
		frame = ACGetOptionsFrame(addr)
	case FamilyDC:
		frame = DCGetOptionsFrame(addr)
	}
	if err := p.Enqueue(frame.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "GetOptions", err)
	}
	m.mu.Lock()
	m.state.LastCmd = CmdGetOptions
	m.mu.Unlock()
	return nil
}

// SetAlarmThreshold writes the over-power alarm threshold, in watts. It is
// only meaningful for MeterA (AC); calling it on a MeterDC meter returns
// ErrInvalidConfig since the DC family has separate high/low voltage
// thresholds instead (see SetDCAlarmThresholds).
func (m *Meter) SetAlarmThreshold(watts uint16) error {
	m.mu.RLock()
	p := m.port
	addr := m.addr
	family := m.family
	m.mu.RUnlock()
	if family != FamilyAC {
		return newErr(ErrInvalidConfig, "SetAlarmThreshold", errWrongFamily)
	}
	if p == nil {
		return newErr(ErrInvalidConfig, "SetAlarmThreshold", errNoPort)
	}
	frame := ACSetAlarmThresholdFrame(addr, watts)
	if err := p.Enqueue(frame.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "SetAlarmThreshold", err)
	}
	m.mu.Lock()
	m.state.LastCmd = CmdSetAlarmThresh
	m.mu.Unlock()
	return nil
}

// SetDCAlarmThresholds writes both voltage alarm thresholds (units of
// 0.01V) for a MeterDC meter; it sends two Write Single Register requests,
// matching the original firmware's two-register layout. Calling it on a
// MeterA meter returns ErrInvalidConfig.
func (m *Meter) SetDCAlarmThresholds(highVolt, lowVolt uint16) error {
	m.mu.RLock()
	p := m.port
	addr := m.addr
	family := m.family
	m.mu.RUnlock()
	if family != FamilyDC {
		return newErr(ErrInvalidConfig, "SetDCAlarmThresholds", errWrongFamily)
	}
	if p == nil {
		return newErr(ErrInvalidConfig, "SetDCAlarmThresholds", errNoPort)
	}
	hi, lo := DCSetAlarmThresholdsFrame(addr, highVolt, lowVolt)
	if err := p.Enqueue(hi.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "SetDCAlarmThresholds", err)
	}
	if err := p.Enqueue(lo.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "SetDCAlarmThresholds", err)
	}
	m.mu.Lock()
	m.state.LastCmd = CmdSetAlarmThresh
	m.mu.Unlock()
	return nil
}

// SetShunt selects the current-shunt range on a MeterDC meter. Calling it
// on a MeterA meter returns ErrInvalidConfig: the AC family has no shunt.
func (m *Meter) SetShunt(shunt ShuntRange) error {
	m.mu.RLock()
	p := m.port
	addr := m.addr
	family := m.family
	m.mu.RUnlock()
	if family != FamilyDC {
		return newErr(ErrInvalidConfig, "SetShunt", errWrongFamily)
	}
	if p == nil {
		return newErr(ErrInvalidConfig, "SetShunt", errNoPort)
	}
	frame := DCSetShuntRangeFrame(addr, shunt)
	if err := p.Enqueue(frame.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "SetShunt", err)
	}
	m.mu.Lock()
	m.state.LastCmd = CmdSetShunt
	m.mu.Unlock()
	return nil
}

// ResetEnergy sends the non-standard energy-counter reset command.
func (m *Meter) ResetEnergy() error {
	m.mu.RLock()
	p := m.port
	addr := m.addr
	family := m.family
	m.mu.RUnlock()
	if p == nil {
		return newErr(ErrInvalidConfig, "ResetEnergy", errNoPort)
	}
	var frame modbus.Frame
	switch family {
	case FamilyAC:
		frame = ACResetEnergyFrame(addr)
	case FamilyDC:
		frame = DCResetEnergyFrame(addr)
	}
	if err := p.Enqueue(frame.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "ResetEnergy", err)
	}
	m.mu.Lock()
	m.state.LastCmd = CmdResetEnergy
	m.mu.Unlock()
	return nil
}

// Calibrate sends the password-gated factory calibration command (function
// 0x41). It is a restricted, rarely-used operation; callers are expected to
// know what they are doing.
func (m *Meter) Calibrate(password uint16) error {
	m.mu.RLock()
	p := m.port
	addr := m.addr
	m.mu.RUnlock()
	if p == nil {
		return newErr(ErrInvalidConfig, "Calibrate", errNoPort)
	}
	frame := modbus.NewCalibrateFrame(addr, password)
	if err := p.Enqueue(frame.Encode(), true); err != nil {
		return newErr(ErrQueueFull, "Calibrate", err)
	}
	m.mu.Lock()
	m.state.LastCmd = CmdCalibrate
	m.mu.Unlock()
	return nil
}

// Autopoll starts (on == true) or stops (on == false) a background timer
// that calls UpdateMetrics at the configured poll period. It is the
// standalone-meter equivalent of pool.Pool's pool-wide poll scheduler: a
// self-rescheduling timer, not a ticker, so a slow UpdateMetrics call
// cannot cause overlapping ticks to pile up.
func (m *Meter) Autopoll(on bool) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	if on {
		if m.pollTimer != nil {
			return // already running
		}
		period := m.pollPeriod
		if period <= 0 {
			period = time.Second
		}
		m.pollStopCh = make(chan struct{})
		m.armPoll(period)
		return
	}
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	if m.pollStopCh != nil {
		close(m.pollStopCh)
		m.pollStopCh = nil
	}
}

func (m *Meter) armPoll(period time.Duration) {
	stop := m.pollStopCh
	m.pollTimer = time.AfterFunc(period, func() {
		select {
		case <-stop:
			return
		default:
		}
		_ = m.UpdateMetrics()
		m.pollMu.Lock()
		if m.pollStopCh == stop {
			m.armPoll(m.currentPollPeriod())
		}
		m.pollMu.Unlock()
	})
}

func (m *Meter) currentPollPeriod() time.Duration {
	if m.pollPeriod <= 0 {
		return time.Second
	}
	return m.pollPeriod
}

// SetPollPeriod configures the autopoll interval. It takes effect on the
// next tick if autopoll is already running.
func (m *Meter) SetPollPeriod(d time.Duration) {
	m.pollMu.Lock()
	m.pollPeriod = d
	m.pollMu.Unlock()
}

// PollPeriod reports the currently configured autopoll interval.
func (m *Meter) PollPeriod() time.Duration {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	return m.pollPeriod
}
