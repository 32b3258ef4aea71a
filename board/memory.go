package board

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/antonholmquist/jason"

	"github.com/mklimuk/timeswipe"
)

var _ timeswipe.Board = &Memory{}

// Memory is a Board kept in process memory. Settings are JSON objects: a
// set request merges its keys into the state, a get request returns the
// stored values of its keys. It backs simulated sessions.
type Memory struct {
	mx      sync.Mutex
	state   map[string]any
	events  []timeswipe.Event
	counter int
}

func NewMemory() *Memory {
	return &Memory{state: map[string]any{}}
}

func (m *Memory) SetSettings(ctx context.Context, request string) (string, error) {
	values, err := decode(request)
	if err != nil {
		return "", err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	for k, v := range values {
		m.state[k] = v
	}
	return encode(values)
}

func (m *Memory) GetSettings(ctx context.Context, request string) (string, error) {
	keys, err := decode(request)
	if err != nil {
		return "", err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	out := make(map[string]any, len(keys))
	for k := range keys {
		v, ok := m.state[k]
		if !ok {
			return "", fmt.Errorf("unknown setting %q", k)
		}
		out[k] = v
	}
	return encode(out)
}

func (m *Memory) ReadEvents(ctx context.Context) ([]timeswipe.Event, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	events := m.events
	m.events = nil
	return events, nil
}

// Press simulates one button transition.
func (m *Memory) Press() {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.counter++
	m.events = append(m.events, timeswipe.Event{Button: true, ButtonCounter: m.counter})
}

func decode(request string) (map[string]any, error) {
	obj, err := jason.NewObjectFromBytes([]byte(request))
	if err != nil {
		return nil, fmt.Errorf("invalid settings request: %w", err)
	}
	values := make(map[string]any)
	for k, v := range obj.Map() {
		values[k] = v.Interface()
	}
	return values, nil
}

func encode(values map[string]any) (string, error) {
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("could not encode settings: %w", err)
	}
	return string(b), nil
}
