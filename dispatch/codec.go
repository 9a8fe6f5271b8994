package dispatch

// Codec selects the completion decoder for an op.
type Codec uint8

const (
	CodecStructured Codec = iota
	CodecMinimal
)

func (c Codec) String() string {
	switch c {
	case CodecMinimal:
		return "minimal"
	default:
		return "structured"
	}
}

// Byte-stream ops served by the minimal codec.
const (
	OpRead  = "op_read"
	OpWrite = "op_write"
)

// CodecFor returns the codec for the named op. Only the byte-stream ops use
// the minimal codec; every other op, known or not, is structured.
func CodecFor(name string) Codec {
	switch name {
	case OpRead, OpWrite:
		return CodecMinimal
	default:
		return CodecStructured
	}
}

// Handler decodes completions for the ops bound to it.
type Handler interface {
	Complete(opID uint32, buf []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(opID uint32, buf []byte)

// Complete calls f.
func (f HandlerFunc) Complete(opID uint32, buf []byte) {
	f(opID, buf)
}

// Invoker issues op calls to the host.
type Invoker interface {
	// InvokeSync calls op id and returns its response buffer.
	InvokeSync(id uint32, payload []byte) ([]byte, error)
	// InvokeAsync starts op id; the completion is delivered later through
	// the router.
	InvokeAsync(id uint32, payload []byte) error
}
