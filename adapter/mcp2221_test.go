package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/timeswipe"
)

// fakeDevice answers each report with the output of reply.
type fakeDevice struct {
	requests [][]byte
	reply    func(req []byte) []byte
	closed   bool
}

func (f *fakeDevice) Write(b []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeDevice) Read(b []byte) (int, error) {
	resp := make([]byte, reportSize)
	last := f.requests[len(f.requests)-1]
	resp[0] = last[0]
	if f.reply != nil {
		copy(resp, f.reply(last))
	}
	return copy(b, resp), nil
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

func newTestBridge(dev *fakeDevice) *MCP2221 {
	return NewMCP2221(dev, WithResponseWait(0))
}

func TestWriteToAddr(t *testing.T) {
	dev := &fakeDevice{}
	m := newTestBridge(dev)
	require.NoError(t, m.WriteToAddr(context.Background(), 0x50, []byte{0x00, 0x10, 0xaa}))
	req := dev.requests[0]
	assert.Equal(t, byte(0x90), req[0])
	assert.Equal(t, []byte{0x03, 0x00}, req[1:3])
	assert.Equal(t, byte(0xa0), req[3])
	assert.Equal(t, []byte{0x00, 0x10, 0xaa}, req[4:7])
}

func TestWriteToAddrBusy(t *testing.T) {
	dev := &fakeDevice{reply: func(req []byte) []byte { return []byte{req[0], 0x01} }}
	err := newTestBridge(dev).WriteToAddr(context.Background(), 0x50, []byte{0x00})
	assert.ErrorIs(t, err, timeswipe.ErrBusBusy)
}

func TestWriteTooLong(t *testing.T) {
	err := newTestBridge(&fakeDevice{}).WriteToAddr(context.Background(), 0x50, make([]byte, 61))
	assert.Error(t, err)
}

func TestReadFromAddr(t *testing.T) {
	dev := &fakeDevice{reply: func(req []byte) []byte {
		if req[0] == 0x40 {
			return []byte{0x40, 0x00, 0x00, 4, 'R', '-', 'P', 'i'}
		}
		return []byte{req[0], 0x00}
	}}
	m := newTestBridge(dev)
	buf := make([]byte, 4)
	require.NoError(t, m.ReadFromAddr(context.Background(), 0x50, buf))
	assert.Equal(t, "R-Pi", string(buf))
	require.Len(t, dev.requests, 2)
	assert.Equal(t, byte(0xa1), dev.requests[0][3])
}

func TestReadFromAddrEngineError(t *testing.T) {
	dev := &fakeDevice{reply: func(req []byte) []byte {
		if req[0] == 0x40 {
			return []byte{0x40, 0x41}
		}
		return []byte{req[0], 0x00}
	}}
	err := newTestBridge(dev).ReadFromAddr(context.Background(), 0x50, make([]byte, 2))
	assert.Error(t, err)
}

func TestUnexpectedEcho(t *testing.T) {
	dev := &fakeDevice{reply: func(req []byte) []byte { return []byte{0x00} }}
	_, err := newTestBridge(dev).Status(context.Background())
	assert.ErrorIs(t, err, ErrCommandUnsupported)
}

func TestStatusAndRelease(t *testing.T) {
	dev := &fakeDevice{reply: func(req []byte) []byte {
		resp := make([]byte, reportSize)
		resp[0] = req[0]
		resp[9], resp[10] = 0x04, 0x00
		resp[11], resp[12] = 0x02, 0x00
		resp[14] = 0x76
		resp[16], resp[17] = 0xa0, 0x00
		return resp
	}}
	m := newTestBridge(dev)
	status, err := m.ReleaseBus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), dev.requests[0][2], "cancel flag")
	assert.Equal(t, uint16(4), status.LastWriteRequestedSize)
	assert.Equal(t, uint16(2), status.LastWriteSentSize)
	assert.Equal(t, 0x76, status.I2CSpeedDivider)
	assert.Equal(t, "a000", status.CurrentAddress)

	require.NoError(t, m.Release(context.Background()))
	require.NoError(t, m.Close())
	assert.True(t, dev.closed)
}

func TestGPIOPin(t *testing.T) {
	var levels [GPIOCount]byte
	dev := &fakeDevice{reply: func(req []byte) []byte {
		resp := make([]byte, reportSize)
		resp[0] = req[0]
		switch req[0] {
		case 0x50:
			for i := 0; i < GPIOCount; i++ {
				if req[2+4*i] == 0x01 {
					levels[i] = req[3+4*i]
				}
			}
		case 0x51:
			for i := 0; i < GPIOCount; i++ {
				resp[2+2*i] = levels[i]
				resp[3+2*i] = 0x00
			}
		}
		return resp
	}}
	m := newTestBridge(dev)
	p, err := m.Pin(2)
	require.NoError(t, err)

	require.NoError(t, p.Set(true))
	assert.True(t, p.Readback())
	assert.True(t, p.Get())
	assert.Equal(t, [GPIOCount]byte{0, 0, 1, 0}, levels)

	values, err := m.ReadGPIO(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GPIOModeOut, values.Mode[2])

	_, err = m.Pin(4)
	assert.Error(t, err)
}

func TestGPIONotConfigured(t *testing.T) {
	dev := &fakeDevice{reply: func(req []byte) []byte {
		resp := make([]byte, reportSize)
		resp[0] = req[0]
		resp[2] = 0xEE
		return resp
	}}
	err := newTestBridge(dev).WriteGPIO(context.Background(), 0, true)
	assert.True(t, errors.Is(err, ErrCommandFailed))
}
