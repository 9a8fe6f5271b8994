package nativehost

import (
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/caffeineduck/opcore/dispatch"
)

// Well-known resource ids.
const (
	RidStdin  int32 = 0
	RidStdout int32 = 1
	RidStderr int32 = 2
)

type resource struct {
	name string
	r    io.Reader
	w    io.Writer
	c    io.Closer
}

// resources is the table of open byte streams addressed by op_read,
// op_write and op_close.
type resources struct {
	mu    sync.Mutex
	next  int32
	table map[int32]*resource
}

func newResources(stdin io.Reader, stdout, stderr io.Writer) *resources {
	rs := &resources{next: RidStderr + 1, table: make(map[int32]*resource)}
	if stdin != nil {
		rs.table[RidStdin] = &resource{name: "stdin", r: stdin}
	}
	if stdout != nil {
		rs.table[RidStdout] = &resource{name: "stdout", w: stdout}
	}
	if stderr != nil {
		rs.table[RidStderr] = &resource{name: "stderr", w: stderr}
	}
	return rs
}

func (rs *resources) add(name string, v any) int32 {
	res := &resource{name: name}
	res.r, _ = v.(io.Reader)
	res.w, _ = v.(io.Writer)
	res.c, _ = v.(io.Closer)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rid := rs.next
	rs.next++
	rs.table[rid] = res
	return rid
}

func (rs *resources) get(rid int32) (*resource, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res, ok := rs.table[rid]
	if !ok {
		return nil, dispatch.NewOpError(dispatch.BadResource, "bad resource id %d", rid)
	}
	return res, nil
}

func (rs *resources) close(rid int32) error {
	rs.mu.Lock()
	res, ok := rs.table[rid]
	delete(rs.table, rid)
	rs.mu.Unlock()

	if !ok {
		return dispatch.NewOpError(dispatch.BadResource, "bad resource id %d", rid)
	}
	if res.c != nil {
		return res.c.Close()
	}
	return nil
}

func (rs *resources) closeAll() error {
	rs.mu.Lock()
	rids := make([]int32, 0, len(rs.table))
	for rid := range rs.table {
		rids = append(rids, rid)
	}
	rs.mu.Unlock()

	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	var errs []error
	for _, rid := range rids {
		if rid <= RidStderr {
			continue
		}
		if err := rs.close(rid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rs *resources) len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.table)
}

func (res *resource) read(n int) (int32, []byte, error) {
	if res.r == nil {
		return 0, nil, dispatch.NewOpError(dispatch.BadResource, "%s is not readable", res.name)
	}
	buf := make([]byte, n)
	k, err := res.r.Read(buf)
	if k > 0 {
		return int32(k), buf[:k], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return 0, nil, nil
	}
	return 0, nil, classify(err)
}

func (res *resource) write(p []byte) (int32, error) {
	if res.w == nil {
		return 0, dispatch.NewOpError(dispatch.BadResource, "%s is not writable", res.name)
	}
	n, err := res.w.Write(p)
	if err != nil {
		return int32(n), classify(err)
	}
	return int32(n), nil
}
