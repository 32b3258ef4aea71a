package timeswipe

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is used to reach the board identification EEPROM.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Transport is a full-duplex serial link. periph spi.Conn satisfies it.
type Transport interface {
	Tx(w, r []byte) error
}
