package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusy     = errors.New("another session is active")
	ErrNotOwner = errors.New("handle is not the active session")
)

// Handle identifies an active acquisition session.
type Handle struct {
	ID      string
	Device  string
	Owner   any
	Started time.Time
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s@%s", h.ID, h.Device)
}

// Registry tracks the active session of the process. At most one handle is
// active at a time regardless of device.
type Registry struct {
	mx     sync.Mutex
	active *Handle
}

// Default is the process-wide registry used by drivers unless told otherwise.
var Default = &Registry{}

func NewRegistry() *Registry {
	return &Registry{}
}

// Acquire registers a new active session for owner.
func (r *Registry) Acquire(device string, owner any) (*Handle, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrBusy, r.active)
	}
	r.active = &Handle{
		ID:      uuid.New().String(),
		Device:  device,
		Owner:   owner,
		Started: time.Now(),
	}
	return r.active, nil
}

// Release ends the session represented by h.
func (r *Registry) Release(h *Handle) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if h == nil || r.active != h {
		return ErrNotOwner
	}
	r.active = nil
	return nil
}

// Active returns the active handle if it belongs to device.
func (r *Registry) Active(device string) (*Handle, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.active == nil || r.active.Device != device {
		return nil, false
	}
	return r.active, true
}

// Busy reports whether any session is active.
func (r *Registry) Busy() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.active != nil
}
