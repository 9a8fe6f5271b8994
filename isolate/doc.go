// Package isolate bootstraps an execution context against a native host.
//
// An [Isolate] is wired to exactly one host. Bootstrapping it builds the op
// table, binds every op to a completion decoder, registers the completion
// router and timer hook with the host, performs the startup handshake and
// installs the global surface the script sees:
//
//	host := nativehost.New(cfg)
//	iso := isolate.New(host, isolate.WithLogger(log))
//	if err := iso.BootstrapPrimary(); err != nil {
//	    return err // fatal: the context is unusable
//	}
//	return host.Run(ctx)
//
// Each isolate may be bootstrapped once, through either entry point. All
// methods run on the host's loop; the isolate is not safe for concurrent
// use.
package isolate
