package isolate

import (
	"github.com/caffeineduck/opcore/dispatch"
	"github.com/caffeineduck/opcore/fault"
)

// OpStart is the handshake op.
const OpStart = "op_start"

// Permissions reports which capability classes the host grants.
type Permissions struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Net   bool `json:"net"`
	Env   bool `json:"env"`
}

// Versions reports the components the host was built from.
type Versions struct {
	Opcore string `json:"opcore"`
	Engine string `json:"engine"`
	Go     string `json:"go"`
}

// StartInfo is the host's answer to the startup handshake.
type StartInfo struct {
	Args         []string    `json:"args"`
	Cwd          string      `json:"cwd"`
	DebugFlag    bool        `json:"debugFlag"`
	NoColor      bool        `json:"noColor"`
	PID          int         `json:"pid"`
	Repl         bool        `json:"repl"`
	UnstableFlag bool        `json:"unstableFlag"`
	Permissions  Permissions `json:"permissions"`
	Versions     Versions    `json:"versions"`
	Target       string      `json:"target"`
}

func (s *StartInfo) validate() error {
	switch {
	case s.Cwd == "":
		return fault.Startup(fault.KindHandshake, "response has no cwd")
	case s.PID <= 0:
		return fault.Startup(fault.KindHandshake, "response has no pid")
	}
	if s.Args == nil {
		s.Args = []string{}
	}
	return nil
}

// performHandshake issues the single synchronous op_start call. Any
// failure is fatal.
func performHandshake(d *dispatch.Dispatcher) (StartInfo, error) {
	var info StartInfo
	if !d.Has(OpStart) {
		return info, fault.Startup(fault.KindHandshake, "host does not implement "+OpStart)
	}
	if err := d.CallSync(OpStart, nil, &info); err != nil {
		return info, fault.Wrap(fault.PhaseStartup, fault.KindHandshake, err, OpStart)
	}
	if err := info.validate(); err != nil {
		return info, err
	}
	return info, nil
}
