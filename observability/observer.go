// Package observability defines pluggable hooks for SPTPS session events.
//
// A zero-cost no-op implementation is the default; callers that want metrics
// swap in a concrete observer (see observability/prom for a Prometheus-backed
// one) without SPTPS itself taking a hard dependency on any metrics library.
package observability

import (
	"sync"
	"sync/atomic"
)

// HandshakeResult is the outcome of a completed or abandoned handshake.
type HandshakeResult string

const (
	HandshakeResultEstablished HandshakeResult = "established"
	HandshakeResultFailed      HandshakeResult = "failed"
)

// ReplayReason classifies why a record was dropped by the replay window.
type ReplayReason string

const (
	ReplayReasonOutsideWindow ReplayReason = "outside_window"
	ReplayReasonAlreadySeen   ReplayReason = "already_seen"
	ReplayReasonFarFuture     ReplayReason = "far_future"
)

// SessionObserver receives SPTPS session lifecycle and traffic events.
type SessionObserver interface {
	HandshakeStarted(role string)
	HandshakeFinished(role string, result HandshakeResult, suite uint8)
	Renegotiated(role string)
	ReplayDropped(reason ReplayReason)
	RecordSent(recordType uint8, n int)
	RecordReceived(recordType uint8, n int)
	SessionStopped(role string)
}

type noopSessionObserver struct{}

func (noopSessionObserver) HandshakeStarted(string)                          {}
func (noopSessionObserver) HandshakeFinished(string, HandshakeResult, uint8) {}
func (noopSessionObserver) Renegotiated(string)                              {}
func (noopSessionObserver) ReplayDropped(ReplayReason)                       {}
func (noopSessionObserver) RecordSent(uint8, int)                            {}
func (noopSessionObserver) RecordReceived(uint8, int)                        {}
func (noopSessionObserver) SessionStopped(string)                            {}

// NoopSessionObserver discards every event.
var NoopSessionObserver SessionObserver = noopSessionObserver{}

// AtomicSessionObserver lets the active observer be swapped at runtime, for
// example to enable metrics only after a process has already started
// sessions.
type AtomicSessionObserver struct {
	once sync.Once
	v    atomic.Value
}

type observerHolder struct{ obs SessionObserver }

// NewAtomicSessionObserver returns an observer initialized to the no-op delegate.
func NewAtomicSessionObserver() *AtomicSessionObserver {
	a := &AtomicSessionObserver{}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopSessionObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicSessionObserver) Set(obs SessionObserver) {
	if obs == nil {
		obs = NoopSessionObserver
	}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopSessionObserver}) })
	a.v.Store(&observerHolder{obs: obs})
}

func (a *AtomicSessionObserver) load() SessionObserver {
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopSessionObserver}) })
	return a.v.Load().(*observerHolder).obs
}

func (a *AtomicSessionObserver) HandshakeStarted(role string) { a.load().HandshakeStarted(role) }
func (a *AtomicSessionObserver) HandshakeFinished(role string, result HandshakeResult, suite uint8) {
	a.load().HandshakeFinished(role, result, suite)
}
func (a *AtomicSessionObserver) Renegotiated(role string) { a.load().Renegotiated(role) }
func (a *AtomicSessionObserver) ReplayDropped(reason ReplayReason) {
	a.load().ReplayDropped(reason)
}
func (a *AtomicSessionObserver) RecordSent(recordType uint8, n int) {
	a.load().RecordSent(recordType, n)
}
func (a *AtomicSessionObserver) RecordReceived(recordType uint8, n int) {
	a.load().RecordReceived(recordType, n)
}
func (a *AtomicSessionObserver) SessionStopped(role string) { a.load().SessionStopped(role) }
