package pzem

import (
	"fmt"

	"github.com/vortigont/pzem-edl/pkg/modbus"
)

func errWrongFunction(got byte) error {
	return fmt.Errorf("unexpected function code 0x%02x", got)
}

func errRegisterCount(got, want int) error {
	return fmt.Errorf("register count mismatch: have %d want %d", got, want)
}

func errException(code modbus.ExceptionCode) error {
	return fmt.Errorf("modbus exception 0x%02x", byte(code))
}

var errNoPort = fmt.Errorf("meter is not attached to a port")

var errWrongFamily = fmt.Errorf("operation not supported by this meter family")
