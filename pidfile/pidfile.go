package pidfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDir is where lock files are created unless WithDir is used.
const DefaultDir = "/var/lock"

var ErrLocked = errors.New("lock is held by another process")

type PidFileOpts struct {
	Dir    string
	Logger *slog.Logger
}

type PidFileOpt func(*PidFileOpts)

func WithDir(dir string) PidFileOpt {
	return func(o *PidFileOpts) {
		o.Dir = dir
	}
}

func WithLogger(l *slog.Logger) PidFileOpt {
	return func(o *PidFileOpts) {
		o.Logger = l
	}
}

// PidFile is an advisory, machine-wide lock backed by flock(2). The file
// holds the pid of the owner. Locking again through the same PidFile is a
// no-op.
type PidFile struct {
	mx   sync.Mutex
	path string
	file *os.File
	log  *slog.Logger
}

// New returns a lock named <name>.pid in the configured directory.
func New(name string, opts ...PidFileOpt) *PidFile {
	config := PidFileOpts{
		Dir:    DefaultDir,
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &PidFile{
		path: filepath.Join(config.Dir, name+".pid"),
		log:  config.Logger.With("component", "pidfile"),
	}
}

func (p *PidFile) Path() string {
	return p.path
}

// Locked reports whether this instance holds the lock.
func (p *PidFile) Locked() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.file != nil
}

func (p *PidFile) Lock() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.file != nil {
		return nil
	}
	f, err := p.acquire()
	if err != nil {
		return err
	}
	if err = f.Truncate(0); err == nil {
		_, err = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return fmt.Errorf("could not write pid: %w", err)
	}
	p.file = f
	p.log.Debug("lock acquired", "path", p.path)
	return nil
}

// acquire flocks the file currently linked at the lock path. A lock taken
// on an inode that was replaced in the meantime is dropped and retried.
func (p *PidFile) acquire() (*os.File, error) {
	for {
		f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open lock file: %w", err)
		}
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err != nil {
			holder := readPid(f)
			_ = f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, fmt.Errorf("%w: %s (pid %d)", ErrLocked, p.path, holder)
			}
			return nil, fmt.Errorf("could not lock %s: %w", p.path, err)
		}
		held, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("could not stat lock file: %w", err)
		}
		linked, err := os.Stat(p.path)
		if err == nil && os.SameFile(held, linked) {
			return f, nil
		}
		p.log.Debug("lock file replaced, retrying", "path", p.path)
		_ = f.Close()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not stat %s: %w", p.path, err)
		}
	}
}

// Unlock clears the pid and releases the lock. The file itself stays in
// place so every contender flocks the same inode. Unlocking an unlocked
// PidFile is a no-op.
func (p *PidFile) Unlock() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.file == nil {
		return nil
	}
	f := p.file
	p.file = nil
	if err := f.Truncate(0); err != nil {
		p.log.Warn("could not clear lock file", "path", p.path, "error", err)
	}
	err := errors.Join(unix.Flock(int(f.Fd()), unix.LOCK_UN), f.Close())
	if err != nil {
		return fmt.Errorf("could not release lock: %w", err)
	}
	p.log.Debug("lock released", "path", p.path)
	return nil
}

func readPid(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
