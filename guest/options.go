package guest

import (
	"io"
	"time"

	"go.uber.org/zap"
)

// Option configures a Runner at creation time.
type Option func(*config)

type config struct {
	log              *zap.Logger
	cacheDir         string
	diskCache        bool
	memoryLimitPages uint32 // 0 = wazero default (4GB)
}

func defaultConfig() config {
	return config{log: zap.NewNop()}
}

// WithLogger sets the logger for host calls.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDiskCache enables a persistent compilation cache. Without dir the
// cache lives under XDG_CACHE_HOME/opcore or ~/.cache/opcore.
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps guest memory, in 64KB pages.
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// Memory limits in pages.
const (
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
)

// RunOption configures one guest instance.
type RunOption func(*runConfig)

type runConfig struct {
	timeout time.Duration
	args    []string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	env     map[string]string
}

func defaultRunConfig() runConfig {
	return runConfig{timeout: 30 * time.Second}
}

// WithTimeout bounds guest execution. Zero disables the limit.
func WithTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// WithArgs sets the guest's argv.
func WithArgs(args ...string) RunOption {
	return func(c *runConfig) {
		c.args = args
	}
}

// WithStdio connects the guest's WASI stdio. Nil streams are discarded.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) RunOption {
	return func(c *runConfig) {
		c.stdin = stdin
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithEnv sets guest environment variables.
func WithEnv(env map[string]string) RunOption {
	return func(c *runConfig) {
		c.env = env
	}
}
