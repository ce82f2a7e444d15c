package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSerialConfig(t *testing.T) {
	cfg := DefaultSerialConfig("/dev/ttyUSB0")
	require.Equal(t, "/dev/ttyUSB0", cfg.Address)
	require.Equal(t, 9600, cfg.BaudRate)
	require.Equal(t, 8, cfg.DataBits)
	require.Equal(t, "N", cfg.Parity)
	require.Equal(t, 1, cfg.StopBits)
}

func TestOpenSerialRejectsMissingDevice(t *testing.T) {
	_, err := OpenSerial(DefaultSerialConfig("/dev/definitely-not-a-real-port"))
	require.Error(t, err)
}
