package guest

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/caffeineduck/opcore/dispatch"
	"github.com/caffeineduck/opcore/isolate"
)

// HostModule is the import module name guests link against.
const HostModule = "opcore"

// Return codes shared by the host functions.
const (
	ResultUnknownOp int32 = -1
	ResultBadMemory int32 = -1
)

// session is the per-instance state host functions see.
type session struct {
	iso  *isolate.Isolate
	log  *zap.Logger
	last []byte
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

func (r *Runner) instantiateHostModule(ctx context.Context) error {
	_, err := r.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(opID).Export("op_id").
		NewFunctionBuilder().WithFunc(opSync).Export("op_sync").
		NewFunctionBuilder().WithFunc(opLast).Export("op_last").
		NewFunctionBuilder().WithFunc(opClose).Export("op_close").
		Instantiate(ctx)
	return err
}

func read(m api.Module, ptr, n uint32) ([]byte, bool) {
	view, ok := m.Memory().Read(ptr, n)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), view...), true
}

func opID(ctx context.Context, m api.Module, namePtr, nameLen uint32) int32 {
	s := sessionFrom(ctx)
	if s == nil {
		return ResultUnknownOp
	}
	name, ok := read(m, namePtr, nameLen)
	if !ok {
		return ResultBadMemory
	}
	id, ok := s.iso.Dispatcher().Table().ID(string(name))
	if !ok {
		return ResultUnknownOp
	}
	return int32(id)
}

func opSync(ctx context.Context, m api.Module, id, ptr, n, outPtr, outCap uint32) int32 {
	s := sessionFrom(ctx)
	if s == nil {
		return ResultBadMemory
	}
	payload, ok := read(m, ptr, n)
	if !ok {
		return ResultBadMemory
	}

	resp, err := s.iso.Dispatcher().InvokeSync(id, payload)
	if err != nil {
		s.log.Warn("guest op failed", zap.Uint32("op_id", id), zap.Error(err))
		resp = dispatch.EncodeResult(nil, nil, err)
	}
	return s.deliver(m, resp, outPtr, outCap)
}

func opLast(ctx context.Context, m api.Module, outPtr, outCap uint32) int32 {
	s := sessionFrom(ctx)
	if s == nil || s.last == nil {
		return 0
	}
	return s.deliver(m, s.last, outPtr, outCap)
}

func opClose(ctx context.Context, m api.Module) {
	s := sessionFrom(ctx)
	if s == nil {
		return
	}
	if err := s.iso.Close(); err != nil {
		s.log.Warn("guest close", zap.Error(err))
	}
}

// deliver copies resp to the out buffer, or holds it for op_last when the
// buffer is too small.
func (s *session) deliver(m api.Module, resp []byte, outPtr, outCap uint32) int32 {
	if uint32(len(resp)) > outCap {
		s.last = resp
		return -int32(len(resp))
	}
	if !m.Memory().Write(outPtr, resp) {
		return ResultBadMemory
	}
	s.last = nil
	return int32(len(resp))
}
