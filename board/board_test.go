package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/timeswipe"
)

// scriptedMCU answers every command line with the reply produced by respond,
// streaming it out in the idle-padded chunks the firmware uses.
type scriptedMCU struct {
	mx       sync.Mutex
	respond  func(cmd string) string
	commands []string
	pending  []byte
	delay    int
	err      error
}

func (m *scriptedMCU) Tx(w, r []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.err != nil {
		return m.err
	}
	for i := range r {
		r[i] = 0xff
	}
	if cmd := strings.Trim(string(w), "\x00"); cmd != "" {
		cmd = strings.TrimSuffix(cmd, "\n")
		m.commands = append(m.commands, cmd)
		m.pending = []byte(m.respond(cmd))
		return nil
	}
	if m.delay > 0 {
		m.delay--
		return nil
	}
	n := copy(r[:min(len(r), 5)], m.pending)
	m.pending = m.pending[n:]
	return nil
}

func newTestLink(m *scriptedMCU) *Link {
	return NewLink(m, WithPollInterval(time.Microsecond), WithResponseTimeout(50*time.Millisecond))
}

func TestLinkSettings(t *testing.T) {
	mcu := &scriptedMCU{delay: 3, respond: func(cmd string) string {
		switch cmd {
		case `js<{"Gain":0}`:
			return "{\"Gain\":2}\r\n"
		case `js>{"Gain":2}`:
			return "{\"Gain\":2}\n"
		}
		return "!unknown command\n"
	}}
	l := newTestLink(mcu)
	ctx := context.Background()

	resp, err := l.SetSettings(ctx, `{"Gain":2}`)
	require.NoError(t, err)
	assert.Equal(t, `{"Gain":2}`, resp)

	resp, err = l.GetSettings(ctx, `{"Gain":0}`)
	require.NoError(t, err)
	assert.Equal(t, `{"Gain":2}`, resp)

	_, err = l.GetSettings(ctx, `{"Nope":0}`)
	assert.ErrorIs(t, err, ErrFirmware)
	assert.Contains(t, err.Error(), "unknown command")

	assert.Equal(t, []string{`js>{"Gain":2}`, `js<{"Gain":0}`, `js<{"Nope":0}`}, mcu.commands)
}

func TestLinkEvents(t *testing.T) {
	replies := []string{"{\"Button\":true,\"ButtonStateCnt\":5}\n", "{}\n"}
	mcu := &scriptedMCU{respond: func(cmd string) string {
		r := replies[0]
		replies = replies[1:]
		return r
	}}
	l := newTestLink(mcu)

	events, err := l.ReadEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []timeswipe.Event{{Button: true, ButtonCounter: 5}}, events)

	events, err = l.ReadEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, []string{"je<", "je<"}, mcu.commands)
}

func TestLinkTimeout(t *testing.T) {
	mcu := &scriptedMCU{respond: func(string) string { return "no newline" }}
	_, err := newTestLink(mcu).GetSettings(context.Background(), "{}")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLinkContextCancelled(t *testing.T) {
	mcu := &scriptedMCU{respond: func(string) string { return "" }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestLink(mcu).GetSettings(ctx, "{}")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLinkTransportError(t *testing.T) {
	failure := errors.New("spi gone")
	mcu := &scriptedMCU{err: failure}
	_, err := newTestLink(mcu).ReadEvents(context.Background())
	assert.ErrorIs(t, err, failure)
}

func TestParseEvents(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []timeswipe.Event
		wantErr bool
	}{
		{name: "empty", data: ""},
		{name: "no button", data: `{"Error":1}`},
		{name: "pressed", data: `{"Button":true,"ButtonStateCnt":1}`, want: []timeswipe.Event{{Button: true, ButtonCounter: 1}}},
		{name: "released", data: `{"Button":false,"ButtonStateCnt":2}`, want: []timeswipe.Event{{Button: false, ButtonCounter: 2}}},
		{name: "missing counter", data: `{"Button":true}`, wantErr: true},
		{name: "garbage", data: `{"Button"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvents([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryBoard(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	resp, err := m.SetSettings(ctx, `{"Mode":1,"Gain":2.5}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Mode":1,"Gain":2.5}`, resp)

	resp, err = m.GetSettings(ctx, `{"Gain":null}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Gain":2.5}`, resp)

	_, err = m.GetSettings(ctx, `{"Offset":null}`)
	assert.Error(t, err)
	_, err = m.SetSettings(ctx, `not json`)
	assert.Error(t, err)

	m.Press()
	m.Press()
	events, err := m.ReadEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []timeswipe.Event{{Button: true, ButtonCounter: 1}, {Button: true, ButtonCounter: 2}}, events)
	events, err = m.ReadEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}
