package driver

import (
	"context"
	"fmt"
)

type request struct {
	seq     uint64
	set     bool
	payload string
}

func (r request) direction() string {
	if r.set {
		return "set"
	}
	return "get"
}

type response struct {
	seq     uint64
	payload string
	err     string
}

// SetSettings sends a write request to the board firmware.
func (t *TimeSwipe) SetSettings(ctx context.Context, req string) (string, error) {
	return t.settings(ctx, true, req)
}

// GetSettings sends a read request to the board firmware.
func (t *TimeSwipe) GetSettings(ctx context.Context, req string) (string, error) {
	return t.settings(ctx, false, req)
}

// settings queues the request and waits for its response. While a session
// runs the control goroutine serves the queue, otherwise the caller does.
func (t *TimeSwipe) settings(ctx context.Context, set bool, payload string) (string, error) {
	t.settingsMu.Lock()
	defer t.settingsMu.Unlock()
	if t.opts.SettingsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.SettingsTimeout)
		defer cancel()
	}

	t.seq++
	req := request{seq: t.seq, set: set, payload: payload}
	for !t.requests.Push(req) {
		if !t.running.Load() {
			t.processRequests(ctx)
			continue
		}
		if err := sleep(ctx, t.opts.SettingsInterval); err != nil {
			return "", fmt.Errorf("could not queue %s settings request: %w", req.direction(), err)
		}
	}

	for {
		if !t.running.Load() {
			t.processRequests(ctx)
		}
		for {
			resp, ok := t.responses.Pop()
			if !ok {
				break
			}
			if resp.seq != req.seq {
				t.log.Debug("stale settings response discarded", "seq", resp.seq)
				continue
			}
			if resp.err != "" {
				return resp.payload, &SettingsError{Direction: req.direction(), Request: payload, Message: resp.err}
			}
			return resp.payload, nil
		}
		if err := sleep(ctx, t.opts.SettingsInterval); err != nil {
			return "", fmt.Errorf("no response to %s settings request: %w", req.direction(), err)
		}
	}
}

// processRequests serves all queued requests against the board.
func (t *TimeSwipe) processRequests(ctx context.Context) {
	for {
		req, ok := t.requests.Pop()
		if !ok {
			return
		}
		var (
			payload string
			err     error
		)
		if req.set {
			payload, err = t.board.SetSettings(ctx, req.payload)
		} else {
			payload, err = t.board.GetSettings(ctx, req.payload)
		}
		resp := response{seq: req.seq, payload: payload}
		if err != nil {
			resp.err = err.Error()
		}
		t.opts.Metrics.SettingsRequest(req.direction(), err != nil)
		if !t.responses.Push(resp) {
			t.log.Warn("settings response dropped", "seq", req.seq)
		}
	}
}
