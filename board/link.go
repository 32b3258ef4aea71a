// Package board talks to the TimeSwipe MCU firmware.
//
// Requests are text lines: "js<" followed by a settings request reads
// settings, "js>" writes them and "je<" asks for pending events. The firmware
// answers with one line; a leading '!' marks an error message.
package board

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/mklimuk/timeswipe"
	"github.com/mklimuk/timeswipe/tsctx"
)

const (
	cmdGetSettings = "js<"
	cmdSetSettings = "js>"
	cmdEvents      = "je<"

	chunkSize   = 32
	rxBufSize   = 4096
	maxLineSize = rxBufSize
)

var (
	ErrFirmware = errors.New("firmware error")
	ErrTimeout  = errors.New("no response from firmware")
	ErrOverflow = errors.New("response too long")
)

var _ timeswipe.Board = &Link{}

type LinkOpts struct {
	PollInterval    time.Duration
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

type LinkOpt func(*LinkOpts)

func WithPollInterval(d time.Duration) LinkOpt {
	return func(o *LinkOpts) {
		o.PollInterval = d
	}
}

func WithResponseTimeout(d time.Duration) LinkOpt {
	return func(o *LinkOpts) {
		o.ResponseTimeout = d
	}
}

func WithLogger(l *slog.Logger) LinkOpt {
	return func(o *LinkOpts) {
		o.Logger = l
	}
}

// Link is a Board reached over a full-duplex serial transport.
type Link struct {
	mx      sync.Mutex
	conn    timeswipe.Transport
	rx      *ringbuffer.RingBuffer
	line    []byte
	tx      []byte
	chunk   []byte
	timeout time.Duration
	poll    time.Duration
	log     *slog.Logger
}

func NewLink(conn timeswipe.Transport, opts ...LinkOpt) *Link {
	config := LinkOpts{
		PollInterval:    time.Millisecond,
		ResponseTimeout: 500 * time.Millisecond,
		Logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Link{
		conn:    conn,
		rx:      ringbuffer.New(rxBufSize),
		tx:      make([]byte, chunkSize),
		chunk:   make([]byte, chunkSize),
		timeout: config.ResponseTimeout,
		poll:    config.PollInterval,
		log:     config.Logger.With("component", "board"),
	}
}

func (l *Link) GetSettings(ctx context.Context, request string) (string, error) {
	resp, err := l.exchange(ctx, cmdGetSettings+request)
	if err != nil {
		return resp, fmt.Errorf("get settings: %w", err)
	}
	return resp, nil
}

func (l *Link) SetSettings(ctx context.Context, request string) (string, error) {
	resp, err := l.exchange(ctx, cmdSetSettings+request)
	if err != nil {
		return resp, fmt.Errorf("set settings: %w", err)
	}
	return resp, nil
}

func (l *Link) ReadEvents(ctx context.Context) ([]timeswipe.Event, error) {
	resp, err := l.exchange(ctx, cmdEvents)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	events, err := ParseEvents([]byte(resp))
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func (l *Link) exchange(ctx context.Context, cmd string) (string, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	// anything left over belongs to an abandoned exchange
	l.rx.Reset()
	l.line = l.line[:0]

	out := append([]byte(cmd), '\n')
	if tsctx.IsVerbose(ctx) {
		l.log.Debug("sending command", "device", tsctx.Device(ctx), "dump", hex.EncodeToString(out))
	}
	err := l.conn.Tx(out, make([]byte, len(out)))
	if err != nil {
		return "", fmt.Errorf("could not send command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	for {
		line, ok, err := l.receive(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			if msg, failed := bytes.CutPrefix(line, []byte{'!'}); failed {
				return "", fmt.Errorf("%w: %s", ErrFirmware, msg)
			}
			return string(line), nil
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w after %s", ErrTimeout, l.timeout)
			}
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// receive clocks one chunk out of the MCU and reports a complete line if
// one is available.
func (l *Link) receive(ctx context.Context) ([]byte, bool, error) {
	err := l.conn.Tx(l.tx, l.chunk)
	if err != nil {
		return nil, false, fmt.Errorf("could not read response: %w", err)
	}
	if tsctx.IsVerbose(ctx) {
		l.log.Debug("chunk received", "device", tsctx.Device(ctx), "dump", hex.EncodeToString(l.chunk))
	}
	for _, b := range l.chunk {
		// idle line
		if b == 0x00 || b == 0xff {
			continue
		}
		if err := l.rx.WriteByte(b); err != nil {
			return nil, false, fmt.Errorf("receive buffer: %w", err)
		}
	}
	for l.rx.Length() > 0 {
		b, err := l.rx.ReadByte()
		if err != nil {
			return nil, false, fmt.Errorf("receive buffer: %w", err)
		}
		if b == '\n' {
			line := bytes.TrimSuffix(l.line, []byte{'\r'})
			return line, true, nil
		}
		if len(l.line) == maxLineSize {
			return nil, false, ErrOverflow
		}
		l.line = append(l.line, b)
	}
	return nil, false, nil
}
