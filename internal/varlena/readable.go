package varlena

import (
	"github.com/containerd/log"

	"github.com/jacoelho/sqlxml/internal/metrics"
	"github.com/jacoelho/sqlxml/internal/verify"
)

// VerifierFunc returns the verifier guarding values of a type.
type VerifierFunc func(TypeTag) verify.Verifier

// Readable is a value the host handed over for reading. Its content can be
// claimed once, either by a reader or by the host adopting it back.
type Readable struct {
	region  *Region
	lookup  VerifierFunc
	metrics *metrics.Set
	cell    claimCell
	tag     TypeTag
}

// NewReadable binds region to the type tag the host declared for it.
func NewReadable(region *Region, tag TypeTag, lookup VerifierFunc, m *metrics.Set) *Readable {
	return &Readable{region: region, tag: tag, lookup: lookup, metrics: m}
}

// Tag returns the type tag recorded at creation.
func (r *Readable) Tag() TypeTag {
	return r.tag
}

// Claim hands the content to its one reader. The returned view owns the
// region from then on and releases it on Close. Every later claim, and any
// adopt, fails with ErrAlreadyConsumed; after Free it fails with
// ErrAlreadyFreed.
func (r *Readable) Claim() (*View, error) {
	observed, ok := r.cell.claim(stateFresh, stateClaimed)
	if !ok {
		err := claimError(observed, "read")
		r.metrics.Claim("read", err)
		return nil, err
	}
	r.metrics.Claim("read", nil)
	return r.region.ownedView(), nil
}

// Adopt gives the backing region back to the host, which expects it to hold
// a value of type expected. No reader may have claimed it. When expected
// differs from the recorded tag the content is verified first, and a region
// failing verification is freed.
func (r *Readable) Adopt(expected TypeTag) (*Region, error) {
	observed, ok := r.cell.claim(stateFresh, stateAdopted)
	if !ok {
		err := claimError(observed, "adopt")
		r.metrics.Claim("adopt", err)
		return nil, err
	}
	r.metrics.Claim("adopt", nil)
	if expected == r.tag {
		r.metrics.Adopt("fast")
		return r.region, nil
	}

	l := log.L.WithFields(log.Fields{"recorded": r.tag, "expected": expected})
	err := r.verifier(expected).VerifyBuffer(r.region.View())
	r.metrics.Verification(err)
	if err != nil {
		l.WithError(err).Debug("adopted value failed verification")
		r.cell.store(stateFreed)
		r.region.Release()
		return nil, err
	}
	l.Debug("adopted value verified")
	r.metrics.Adopt("verified")
	return r.region, nil
}

func (r *Readable) verifier(tag TypeTag) verify.Verifier {
	if r.lookup != nil {
		if v := r.lookup(tag); v != nil {
			return v
		}
	}
	return verify.NoOp{}
}

// Free releases the region. It is idempotent and does nothing once the
// host has adopted the region. After a claim the reader's view owns the
// region, so Free only retires the value and closing the view releases it.
func (r *Readable) Free() {
	if prev, ok := r.cell.release(); ok && prev != stateClaimed {
		r.region.Release()
	}
}
