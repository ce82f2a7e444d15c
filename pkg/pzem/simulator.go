package pzem

import (
	"math/rand"
	"sync"
	"time"
)

// SimBounds configures the random-walk range a SimMeter's metrics are kept
// within, in the family's natural engineering units.
type SimBounds struct {
	VoltageMin, VoltageMax float64
	CurrentMin, CurrentMax float64
	PowerMin, PowerMax     float64
	StepFraction           float64 // max fractional step per tick, e.g. 0.05
}

// DefaultACSimBounds returns plausible bounds for a simulated mains AC load.
func DefaultACSimBounds() SimBounds {
	return SimBounds{
		VoltageMin: 220, VoltageMax: 240,
		CurrentMin: 0, CurrentMax: 10,
		PowerMin: 0, PowerMax: 2200,
		StepFraction: 0.05,
	}
}

// DefaultDCSimBounds returns plausible bounds for a simulated 12-48V DC bus.
func DefaultDCSimBounds() SimBounds {
	return SimBounds{
		VoltageMin: 11, VoltageMax: 58,
		CurrentMin: 0, CurrentMax: 20,
		PowerMin: 0, PowerMax: 1000,
		StepFraction: 0.05,
	}
}

// SimMeter produces plausible metrics without any transport, for tests and
// demos that need a meter-shaped data source without real hardware or a
// loopback Port. It is not attached to a pkg/transport.Port at all; it
// drives a Callback the same way Meter.RxSink does.
type SimMeter struct {
	mu      sync.Mutex
	family  Family
	addr    byte
	bounds  SimBounds
	metrics Metrics
	energy  float64
	rnd     *rand.Rand
	cb      Callback

	stopCh chan struct{}
}

// NewSimMeter creates a simulated meter of the given family and bounds.
// seed makes the walk reproducible across runs.
func NewSimMeter(f Family, addr byte, bounds SimBounds, seed int64) *SimMeter {
	s := &SimMeter{
		family: f,
		addr:   addr,
		bounds: bounds,
		rnd:    rand.New(rand.NewSource(seed)),
	}
	s.metrics = s.seedMetrics()
	return s
}

func (s *SimMeter) seedMetrics() Metrics {
	v := midpoint(s.bounds.VoltageMin, s.bounds.VoltageMax)
	c := midpoint(s.bounds.CurrentMin, s.bounds.CurrentMax)
	p := midpoint(s.bounds.PowerMin, s.bounds.PowerMax)
	switch s.family {
	case FamilyAC:
		return &ACMetrics{VoltageV: v, CurrentA: c, PowerW: p, FrequencyHz: 50, PowerFactor: 0.95}
	default:
		return &DCMetrics{VoltageV: v, CurrentA: c, PowerW: p}
	}
}

func midpoint(a, b float64) float64 { return (a + b) / 2 }

// Family reports the simulated meter's family.
func (s *SimMeter) Family() Family { return s.family }

// Addr reports the simulated meter's bus address.
func (s *SimMeter) Addr() byte { return s.addr }

// SetCallback installs the function invoked after every Tick.
func (s *SimMeter) SetCallback(cb Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

// Tick advances the random walk by one step, updates Energy cumulatively
// and invokes the installed Callback, the simulated analogue of a real
// meter's UpdateMetrics+RxSink round trip completing.
func (s *SimMeter) Tick(elapsed time.Duration) {
	s.mu.Lock()
	s.metrics = s.walk(s.metrics, elapsed)
	s.mu.Unlock()
	if s.cb != nil {
		// SimMeter has no *Meter; callers that need the Callback signature
		// for a real Meter should use GetMetrics directly instead.
		s.cb(nil, nil)
	}
}

func (s *SimMeter) walk(prev Metrics, elapsed time.Duration) Metrics {
	step := func(cur, min, max float64) float64 {
		span := max - min
		delta := (s.rnd.Float64()*2 - 1) * span * s.bounds.StepFraction
		next := cur + delta
		if next < min {
			next = min
		}
		if next > max {
			next = max
		}
		return next
	}
	hours := elapsed.Hours()
	switch m := prev.(type) {
	case *ACMetrics:
		v := step(m.VoltageV, s.bounds.VoltageMin, s.bounds.VoltageMax)
		c := step(m.CurrentA, s.bounds.CurrentMin, s.bounds.CurrentMax)
		p := v * c
		s.energy += p * hours
		return &ACMetrics{VoltageV: v, CurrentA: c, PowerW: p, EnergyWh: s.energy, FrequencyHz: m.FrequencyHz, PowerFactor: m.PowerFactor}
	case *DCMetrics:
		v := step(m.VoltageV, s.bounds.VoltageMin, s.bounds.VoltageMax)
		c := step(m.CurrentA, s.bounds.CurrentMin, s.bounds.CurrentMax)
		p := v * c
		s.energy += p * hours
		return &DCMetrics{VoltageV: v, CurrentA: c, PowerW: p, EnergyWh: s.energy}
	default:
		return prev
	}
}

// GetMetrics returns a snapshot of the current simulated metrics.
func (s *SimMeter) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics.Clone()
}

// Autopoll starts a background goroutine calling Tick at period until
// Stop is called.
func (s *SimMeter) Autopoll(period time.Duration) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.Tick(period)
			}
		}
	}()
}

// Stop halts the Autopoll goroutine started by Autopoll, if any.
func (s *SimMeter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}
