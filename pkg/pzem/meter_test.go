package pzem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vortigont/pzem-edl/pkg/modbus"
	"github.com/vortigont/pzem-edl/pkg/pzem"
	"github.com/vortigont/pzem-edl/pkg/transport"
)

func TestMeterUpdateMetricsRoundTrip(t *testing.T) {
	clientLine, meterLine := transport.NewNullCable()
	client := transport.New(clientLine, nil)
	meterPort := transport.New(meterLine, nil)

	m := pzem.NewACMeter(0x01, nil)
	m.AttachPort(client, false)

	done := make(chan error, 1)
	m.SetCallback(func(mm *pzem.Meter, err error) { done <- err })

	// meterPort plays the role of the physical meter: echo back a canned
	// metrics frame whenever it sees any request.
	meterPort.AttachRxHandler(func(raw []byte) {
		body := []byte{0x01, modbus.FuncReadInputRegisters, 20,
			0x08, 0xCA, // voltage 225.0V
			0x00, 0x64, 0x00, 0x00, // current lo/hi -> 0x0064 = 100 -> 0.1A... placeholder
			0x00, 0x00, 0x00, 0x00, // power lo/hi
			0x00, 0x00, 0x00, 0x00, // energy lo/hi
			0x01, 0xF4, // frequency 50.0Hz
			0x00, 0x5F, // pf 0.95
			0x00, 0x00, // alarm
		}
		frame := make([]byte, len(body)+2)
		copy(frame, body)
		modbus.CRC16{}.SetTrailing(frame)
		_ = meterPort.Enqueue(frame, false)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	meterPort.Start(ctx)
	defer client.Stop()
	defer meterPort.Stop()

	require.NoError(t, m.UpdateMetrics())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for metrics update")
	}

	metrics := m.GetMetrics()
	require.NotNil(t, metrics)
	require.InDelta(t, 225.0, metrics.Voltage(), 0.01)
}

func TestMeterUpdateMetricsWithoutPortFails(t *testing.T) {
	m := pzem.NewDCMeter(0x02, nil)
	require.Error(t, m.UpdateMetrics())
}

func TestMeterGetOptionsParsesACHoldingBlock(t *testing.T) {
	clientLine, meterLine := transport.NewNullCable()
	client := transport.New(clientLine, nil)
	meterPort := transport.New(meterLine, nil)

	m := pzem.NewACMeter(0x01, nil)
	m.AttachPort(client, false)

	done := make(chan error, 1)
	m.SetCallback(func(mm *pzem.Meter, err error) { done <- err })

	meterPort.AttachRxHandler(func(raw []byte) {
		body := []byte{0x01, modbus.FuncReadHoldingRegisters, 4,
			0x00, 0x64, // alarm threshold 100W
			0x00, 0x01, // address 0x01
		}
		frame := make([]byte, len(body)+2)
		copy(frame, body)
		modbus.CRC16{}.SetTrailing(frame)
		_ = meterPort.Enqueue(frame, false)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	meterPort.Start(ctx)
	defer client.Stop()
	defer meterPort.Stop()

	require.NoError(t, m.GetOptions())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for options read")
	}

	opts := m.GetState().ACOptions
	require.NotNil(t, opts)
	require.Equal(t, uint16(100), opts.AlarmThresholdW)
	require.Equal(t, byte(0x01), opts.Addr)
}

func TestMeterSetShuntRejectedOnACMeter(t *testing.T) {
	clientLine, _ := transport.NewNullCable()
	client := transport.New(clientLine, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	defer client.Stop()

	m := pzem.NewACMeter(0x01, nil)
	m.AttachPort(client, false)
	require.Error(t, m.SetShunt(pzem.Shunt100A))
}

func TestMeterSetShuntUpdatesDCOptionsFromEcho(t *testing.T) {
	clientLine, meterLine := transport.NewNullCable()
	client := transport.New(clientLine, nil)
	meterPort := transport.New(meterLine, nil)

	m := pzem.NewDCMeter(0x03, nil)
	m.AttachPort(client, false)

	done := make(chan error, 1)
	m.SetCallback(func(mm *pzem.Meter, err error) { done <- err })

	// Write Single Register echoes back the register and the value the
	// meter actually holds, for register 0x0003 (shunt range).
	meterPort.AttachRxHandler(func(raw []byte) {
		body := []byte{0x03, modbus.FuncWriteSingleRegister, 0x00, 0x03, 0x00, 0x02}
		frame := make([]byte, len(body)+2)
		copy(frame, body)
		modbus.CRC16{}.SetTrailing(frame)
		_ = meterPort.Enqueue(frame, false)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	meterPort.Start(ctx)
	defer client.Stop()
	defer meterPort.Stop()

	require.NoError(t, m.SetShunt(pzem.Shunt200A))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for shunt write ack")
	}

	opts := m.GetState().DCOptions
	require.NotNil(t, opts)
	require.Equal(t, pzem.Shunt200A, opts.Shunt)
}

func TestMeterSetAddressLenientFallback(t *testing.T) {
	clientLine, _ := transport.NewNullCable()
	client := transport.New(clientLine, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Start(ctx)
	defer client.Stop()

	m := pzem.NewACMeter(0x05, nil)
	m.AttachPort(client, false)

	// Out of range: silently ignored, address unchanged, no error.
	require.NoError(t, m.SetAddress(0xFF))
	require.Equal(t, byte(0x05), m.Addr())

	// In range: accepted.
	require.NoError(t, m.SetAddress(0x06))
	require.Equal(t, byte(0x06), m.Addr())
}
