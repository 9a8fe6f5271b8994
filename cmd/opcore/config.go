package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/opcore/nativehost"
)

// settings is the merged result of defaults, the config file and flags.
type settings struct {
	Args             []string
	Unstable         bool
	Debug            bool
	KV               bool
	AllowHosts       []string
	Mounts           []nativehost.Mount
	Env              map[string]string
	Timeout          time.Duration
	Memory           string
	NoCache          bool
	MaxConcurrentOps int64
}

func defaultSettings() settings {
	return settings{
		Timeout:          30 * time.Second,
		Memory:           "256mb",
		MaxConcurrentOps: nativehost.DefaultMaxConcurrentOps,
	}
}

type fileConfig struct {
	Args             []string          `toml:"args" yaml:"args"`
	Unstable         bool              `toml:"unstable" yaml:"unstable"`
	Debug            bool              `toml:"debug" yaml:"debug"`
	KV               bool              `toml:"kv" yaml:"kv"`
	AllowHosts       []string          `toml:"allow_hosts" yaml:"allow_hosts"`
	Mounts           []string          `toml:"mounts" yaml:"mounts"`
	Env              map[string]string `toml:"env" yaml:"env"`
	Timeout          string            `toml:"timeout" yaml:"timeout"`
	Memory           string            `toml:"memory" yaml:"memory"`
	MaxConcurrentOps int64             `toml:"max_concurrent_ops" yaml:"max_concurrent_ops"`
}

// loadConfig overlays the keys present in the file at path on defaults.
func loadConfig(path string) (settings, error) {
	cfg := defaultSettings()

	var raw fileConfig
	var defined func(key string) bool

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return settings{}, fmt.Errorf("load config: %w", err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return settings{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return settings{}, fmt.Errorf("load config: %w", err)
		}
		var keys map[string]any
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return settings{}, fmt.Errorf("load config: %w", err)
		}
		defined = func(key string) bool {
			_, ok := keys[key]
			return ok
		}
	default:
		return settings{}, fmt.Errorf("load config: unsupported format %q", filepath.Ext(path))
	}

	if defined("args") {
		cfg.Args = raw.Args
	}
	if defined("unstable") {
		cfg.Unstable = raw.Unstable
	}
	if defined("debug") {
		cfg.Debug = raw.Debug
	}
	if defined("kv") {
		cfg.KV = raw.KV
	}
	if defined("allow_hosts") {
		cfg.AllowHosts = normalizeHosts(raw.AllowHosts)
	}
	if defined("mounts") {
		for _, spec := range raw.Mounts {
			m, err := nativehost.ParseMount(strings.TrimSpace(spec))
			if err != nil {
				return settings{}, fmt.Errorf("parse mounts: %w", err)
			}
			cfg.Mounts = append(cfg.Mounts, m)
		}
	}
	if defined("env") {
		cfg.Env = raw.Env
	}
	if defined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return settings{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if defined("memory") {
		cfg.Memory = strings.TrimSpace(raw.Memory)
	}
	if defined("max_concurrent_ops") {
		cfg.MaxConcurrentOps = raw.MaxConcurrentOps
	}
	return cfg, nil
}

func normalizeHosts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		if v := strings.TrimSpace(h); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// resolveSettings loads --config, then applies every flag the user set.
func resolveSettings(cmd *cobra.Command) (settings, error) {
	s := defaultSettings()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if s, err = loadConfig(path); err != nil {
			return settings{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		s.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("no-cache") {
		s.NoCache, _ = flags.GetBool("no-cache")
	}
	if flags.Lookup("arg") == nil {
		return s, nil
	}

	if flags.Changed("arg") {
		s.Args, _ = flags.GetStringArray("arg")
	}
	if flags.Changed("unstable") {
		s.Unstable, _ = flags.GetBool("unstable")
	}
	if flags.Changed("kv") {
		s.KV, _ = flags.GetBool("kv")
	}
	if flags.Changed("allow-host") {
		hosts, _ := flags.GetStringSlice("allow-host")
		s.AllowHosts = normalizeHosts(hosts)
	}
	if flags.Changed("mount") {
		specs, _ := flags.GetStringSlice("mount")
		s.Mounts = nil
		for _, spec := range specs {
			m, err := nativehost.ParseMount(spec)
			if err != nil {
				return settings{}, err
			}
			s.Mounts = append(s.Mounts, m)
		}
	}
	if flags.Changed("env") {
		s.Env, _ = flags.GetStringToString("env")
	}
	if flags.Changed("timeout") {
		s.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("memory") {
		s.Memory, _ = flags.GetString("memory")
	}
	return s, nil
}

// hostConfig translates settings into a native host configuration.
func (s settings) hostConfig(stdin io.Reader, stdout, stderr io.Writer, repl bool) nativehost.Config {
	cfg := nativehost.Config{
		Args:             s.Args,
		Debug:            s.Debug,
		Repl:             repl,
		Unstable:         s.Unstable,
		Mounts:           s.Mounts,
		Environment:      s.Env,
		Fetch:            nativehost.FetchConfig{AllowedHosts: s.AllowHosts},
		MaxConcurrentOps: s.MaxConcurrentOps,
		Stdin:            stdin,
		Stdout:           stdout,
		Stderr:           stderr,
	}
	if s.KV {
		cfg.KV = nativehost.NewKV(nativehost.DefaultKVConfig())
	}
	return cfg
}

func newHost(s settings, cmd *cobra.Command, log *zap.Logger, repl bool) *nativehost.Host {
	cfg := s.hostConfig(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), repl)
	return nativehost.New(cfg, nativehost.WithLogger(log))
}
