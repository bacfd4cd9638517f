// Package varlena guards host-owned variable-length values: who may read or
// write the backing buffer, when the host may take it back, and when it must
// be verified first.
package varlena

import (
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

// TypeTag is the host's type identifier for a value.
type TypeTag uint32

// Host type identifiers.
const (
	TagBytea TypeTag = 17
	TagText  TypeTag = 25
	TagXML   TypeTag = 142
)

func (t TypeTag) String() string {
	switch t {
	case TagBytea:
		return "bytea"
	case TagText:
		return "text"
	case TagXML:
		return "xml"
	default:
		return "type-" + strconv.FormatUint(uint64(t), 10)
	}
}

// Region is a byte region lent by the host. Its bytes are never handed out
// directly; readers get a View.
type Region struct {
	data     []byte
	release  func()
	once     sync.Once
	released atomic.Bool
}

// NewRegion wraps data. release, when not nil, runs once when the region is
// freed.
func NewRegion(data []byte, release func()) *Region {
	return &Region{data: data, release: release}
}

// Len reports the size of the region.
func (r *Region) Len() int {
	return len(r.data)
}

// View returns a read-only view with its own cursor at the start.
func (r *Region) View() *View {
	return &View{region: r, data: r.data, mark: -1}
}

// ownedView returns a view that releases the region when it is closed.
func (r *Region) ownedView() *View {
	v := r.View()
	v.owner = true
	return v
}

// Release runs the release function once. Later calls do nothing, and every
// view of the region fails from then on.
func (r *Region) Release() {
	r.once.Do(func() {
		r.released.Store(true)
		if r.release != nil {
			r.release()
		}
	})
}

var (
	errViewClosed   = xmlerrors.New(xmlerrors.ErrStreamClosed, "read from closed view")
	errViewReleased = xmlerrors.New(xmlerrors.ErrAlreadyFreed, "read from released region")
)

// View reads a Region through an independent cursor. Reads copy out of the
// region, so no caller ever holds a slice aliasing host memory. The view of
// a claimed value owns the region.
type View struct {
	region *Region
	data   []byte
	off    int
	mark   int
	owner  bool
	closed bool
}

func (v *View) Read(p []byte) (int, error) {
	if v.closed {
		return 0, errViewClosed
	}
	if v.region.released.Load() {
		return 0, errViewReleased
	}
	if v.off >= len(v.data) {
		return 0, io.EOF
	}
	n := copy(p, v.data[v.off:])
	v.off += n
	return n, nil
}

// Len reports the unread bytes.
func (v *View) Len() int {
	return len(v.data) - v.off
}

// Size reports the total size of the viewed region.
func (v *View) Size() int {
	return len(v.data)
}

func (v *View) MarkSupported() bool { return true }

// Mark records the cursor. The region is fully materialized, so limit only
// distinguishes setting a mark from cancelling one.
func (v *View) Mark(limit int) error {
	if v.closed {
		return errViewClosed
	}
	if limit <= 0 {
		v.mark = -1
	} else {
		v.mark = v.off
	}
	return nil
}

func (v *View) Reset() error {
	if v.closed {
		return errViewClosed
	}
	if v.mark < 0 {
		return xmlerrors.New(xmlerrors.ErrMarkNotSet, "reset without mark")
	}
	v.off = v.mark
	return nil
}

// Close detaches the view. An owning view also releases the region.
func (v *View) Close() error {
	v.closed = true
	if v.owner {
		v.region.Release()
	}
	return nil
}
