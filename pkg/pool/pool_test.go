package pool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vortigont/pzem-edl/pkg/modbus"
	"github.com/vortigont/pzem-edl/pkg/pool"
	"github.com/vortigont/pzem-edl/pkg/pzem"
	"github.com/vortigont/pzem-edl/pkg/transport"
)

func TestPoolAddPortAndMeter(t *testing.T) {
	p := pool.New(nil)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	clientLine, _ := transport.NewNullCable()
	port := transport.New(clientLine, nil)
	require.NoError(t, p.AddPort(ctx, "bus0", port))

	ok, err := p.ExistPort(ctx, "bus0")
	require.NoError(t, err)
	require.True(t, ok)

	meter := pzem.NewACMeter(0x01, nil)
	require.NoError(t, p.AddMeter(ctx, "m1", "bus0", meter))

	ok, err = p.ExistMeter(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.ExistMeter(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPoolRejectsMeterWithAddrOutOfRange(t *testing.T) {
	p := pool.New(nil)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	clientLine, _ := transport.NewNullCable()
	port := transport.New(clientLine, nil)
	require.NoError(t, p.AddPort(ctx, "bus0", port))

	meter := pzem.NewACMeter(pzem.AddrAny, nil) // 0xF8, outside [AddrMin, AddrMax]
	err := p.AddMeter(ctx, "m1", "bus0", meter)
	require.Error(t, err)

	var pzErr *pzem.Error
	require.ErrorAs(t, err, &pzErr)
	require.Equal(t, pzem.ErrInvalidConfig, pzErr.Kind)
}

func TestPoolRejectsDuplicateAddrOnSamePort(t *testing.T) {
	p := pool.New(nil)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	clientLine, _ := transport.NewNullCable()
	port := transport.New(clientLine, nil)
	require.NoError(t, p.AddPort(ctx, "bus0", port))

	require.NoError(t, p.AddMeter(ctx, "m1", "bus0", pzem.NewACMeter(0x01, nil)))

	err := p.AddMeter(ctx, "m2", "bus0", pzem.NewDCMeter(0x01, nil))
	require.Error(t, err)

	var pzErr *pzem.Error
	require.ErrorAs(t, err, &pzErr)
	require.Equal(t, pzem.ErrInvalidConfig, pzErr.Kind)
}

func TestPoolDispatchesRxToOwningMeter(t *testing.T) {
	p := pool.New(nil)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	clientLine, meterLine := transport.NewNullCable()
	clientPort := transport.New(clientLine, nil)
	require.NoError(t, p.AddPort(ctx, "bus0", clientPort))

	meter := pzem.NewACMeter(0x01, nil)
	require.NoError(t, p.AddMeter(ctx, "m1", "bus0", meter))

	var mu sync.Mutex
	var events []pool.UpdateEvent
	p.Subscribe(func(e pool.UpdateEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	meterPort := transport.New(meterLine, nil)
	meterPort.AttachRxHandler(func(raw []byte) {
		body := []byte{0x01, modbus.FuncReadInputRegisters, 20,
			0x08, 0xCA, 0x00, 0x64, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x01, 0xF4, 0x00, 0x5F, 0x00, 0x00,
		}
		frame := make([]byte, len(body)+2)
		copy(frame, body)
		modbus.CRC16{}.SetTrailing(frame)
		_ = meterPort.Enqueue(frame, false)
	})
	meterPort.Start(context.Background())
	defer meterPort.Stop()

	require.NoError(t, p.UpdateAll(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "m1", events[0].MeterID)
	require.NoError(t, events[0].Err)
}
