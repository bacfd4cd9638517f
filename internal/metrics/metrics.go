// Package metrics counts ownership and correction decisions.
package metrics

import (
	"github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Set holds the counters of one runtime. A nil *Set records nothing.
type Set struct {
	ns            *metrics.Namespace
	claims        metrics.LabeledCounter
	adopts        metrics.LabeledCounter
	verifications metrics.LabeledCounter
	wraps         metrics.LabeledCounter
}

// New creates the counters and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) (*Set, error) {
	ns := metrics.NewNamespace("sqlxml", "", nil)
	s := &Set{
		ns:            ns,
		claims:        ns.NewLabeledCounter("claims", "The number of claims on backing buffers by kind and result", "kind", "result"),
		adopts:        ns.NewLabeledCounter("adopts", "The number of buffers handed back to the host by path", "path"),
		verifications: ns.NewLabeledCounter("verifications", "The number of content verifications by result", "result"),
		wraps:         ns.NewLabeledCounter("wraps", "The number of content form decisions for parsed reads", "decision"),
	}
	if reg != nil {
		if err := reg.Register(ns); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Collector exposes every counter of the set.
func (s *Set) Collector() prometheus.Collector {
	return s.ns
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Claim counts one claim attempt of the given kind: read, write or adopt.
func (s *Set) Claim(kind string, err error) {
	if s == nil {
		return
	}
	s.claims.WithValues(kind, result(err)).Inc()
}

// Adopt counts a completed adopt: fast when the type matched, verified
// otherwise.
func (s *Set) Adopt(path string) {
	if s == nil {
		return
	}
	s.adopts.WithValues(path).Inc()
}

// Verification counts one verifier run.
func (s *Set) Verification(err error) {
	if s == nil {
		return
	}
	s.verifications.WithValues(result(err)).Inc()
}

// Wrap counts a content form decision.
func (s *Set) Wrap(wrapped bool) {
	if s == nil {
		return
	}
	decision := "document"
	if wrapped {
		decision = "wrapped"
	}
	s.wraps.WithValues(decision).Inc()
}
