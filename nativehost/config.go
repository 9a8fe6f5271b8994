package nativehost

import (
	"io"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"
)

// Version is reported in the handshake.
const Version = "0.1.0"

// DefaultMaxConcurrentOps bounds async ops in flight at once.
const DefaultMaxConcurrentOps = 64

// DefaultMaxReadSize caps the buffer a single op_read allocates.
const DefaultMaxReadSize = 1 << 20

// Config describes the environment a host reports to its isolate and the
// capabilities it grants.
type Config struct {
	Args     []string
	Cwd      string // defaults to the process working directory
	Debug    bool
	Repl     bool
	Unstable bool
	// NoColor is detected from NO_COLOR and the Stdout terminal when nil.
	NoColor *bool
	Target  string

	Mounts      []Mount
	FSOptions   []FSOption
	Fetch       FetchConfig
	KV          *KV
	Environment map[string]string

	// MaxConcurrentOps bounds async ops executing at once.
	MaxConcurrentOps int64
	// MaxReadSize caps op_read requests; larger requests read at most
	// this many bytes.
	MaxReadSize int

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ExitFunc is called once when the isolate requests exit.
	ExitFunc func(code int)
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithClock sets the time source for op_now.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		h.now = now
	}
}

func (c *Config) setDefaults() {
	if c.Cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Cwd = wd
		} else {
			c.Cwd = "/"
		}
	}
	if c.Args == nil {
		c.Args = []string{}
	}
	if c.Target == "" {
		c.Target = runtime.GOARCH + "-" + runtime.GOOS
	}
	if c.MaxConcurrentOps <= 0 {
		c.MaxConcurrentOps = DefaultMaxConcurrentOps
	}
	if c.MaxReadSize <= 0 {
		c.MaxReadSize = DefaultMaxReadSize
	}
	if c.NoColor == nil {
		noColor := detectNoColor(c.Stdout)
		c.NoColor = &noColor
	}
}

func detectNoColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	return !term.IsTerminal(int(f.Fd()))
}

func (c *Config) writable() bool {
	for _, m := range c.Mounts {
		if m.Mode != MountReadOnly {
			return true
		}
	}
	return false
}
