// Package eeprom reads the board identification memory.
//
// The board carries a Raspberry Pi HAT EEPROM. Only its header is checked
// here: the "R-Pi" signature, the format version and the declared length.
package eeprom

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

// HeaderSize is the length of the HAT EEPROM header.
const HeaderSize = 12

// FormatVersion is the only header version understood.
const FormatVersion = 0x01

var Signature = [4]byte{'R', '-', 'P', 'i'}

var (
	ErrSignature = errors.New("invalid eeprom signature")
	ErrVersion   = errors.New("unsupported eeprom format version")
	ErrLength    = errors.New("invalid eeprom length")
)

// Memory is a readable EEPROM.
type Memory interface {
	Read(ctx context.Context, address uint32, buf []byte) error
}

type Header struct {
	Signature [4]byte
	Version   byte
	NumAtoms  uint16
	Length    uint32
}

// ParseHeader decodes and validates the first HeaderSize bytes of the memory.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: header has %d bytes", ErrLength, len(b))
	}
	copy(h.Signature[:], b[0:4])
	h.Version = b[4]
	h.NumAtoms = binary.LittleEndian.Uint16(b[6:8])
	h.Length = binary.LittleEndian.Uint32(b[8:12])
	if h.Signature != Signature {
		return h, fmt.Errorf("%w: % x", ErrSignature, h.Signature[:])
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if h.Length < HeaderSize {
		return h, fmt.Errorf("%w: %d", ErrLength, h.Length)
	}
	return h, nil
}

// ReadHeader reads and validates the header.
func ReadHeader(ctx context.Context, mem Memory) (Header, error) {
	buf := make([]byte, HeaderSize)
	if err := mem.Read(ctx, 0, buf); err != nil {
		return Header{}, fmt.Errorf("could not read eeprom header: %w", err)
	}
	return ParseHeader(buf)
}

// Verifier checks the header before an acquisition session starts.
type Verifier struct {
	mem Memory
	log *slog.Logger
}

func NewVerifier(mem Memory, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{mem: mem, log: log.With("component", "eeprom")}
}

func (v *Verifier) Verify(ctx context.Context) error {
	h, err := ReadHeader(ctx, v.mem)
	if err != nil {
		return err
	}
	v.log.Debug("eeprom header verified", "atoms", h.NumAtoms, "length", h.Length)
	return nil
}
