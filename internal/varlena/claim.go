package varlena

import (
	"sync/atomic"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

type cellState uint32

const (
	stateFresh cellState = iota
	// stateClaimed is consumed on the read side and producing on the write
	// side.
	stateClaimed
	stateProduced
	stateAdopted
	stateFreed
)

func (s cellState) String() string {
	switch s {
	case stateFresh:
		return "fresh"
	case stateClaimed:
		return "claimed"
	case stateProduced:
		return "produced"
	case stateAdopted:
		return "adopted"
	case stateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// claimCell is the single source of truth for a buffer's owner. Every
// transition is one compare-and-swap, so of several racing claims exactly
// one observes success.
type claimCell struct {
	v atomic.Uint32
}

// claim moves from -> to and reports the state it observed. On failure the
// observed state is the one that blocked the transition.
func (c *claimCell) claim(from, to cellState) (cellState, bool) {
	if c.v.CompareAndSwap(uint32(from), uint32(to)) {
		return from, true
	}
	return cellState(c.v.Load()), false
}

func (c *claimCell) load() cellState {
	return cellState(c.v.Load())
}

func (c *claimCell) store(s cellState) {
	c.v.Store(uint32(s))
}

// release moves any state but adopted and freed to freed, reporting the
// state it replaced. It reports false when there was nothing to release.
func (c *claimCell) release() (cellState, bool) {
	for {
		cur := c.load()
		if cur == stateAdopted || cur == stateFreed {
			return cur, false
		}
		if c.v.CompareAndSwap(uint32(cur), uint32(stateFreed)) {
			return cur, true
		}
	}
}

// claimError reports why a claim that needed a fresh cell failed.
func claimError(observed cellState, op string) error {
	if observed == stateFreed {
		return xmlerrors.New(xmlerrors.ErrAlreadyFreed, op+" after free")
	}
	return xmlerrors.New(xmlerrors.ErrAlreadyConsumed, op+" on a value already "+observed.String())
}
