// Package caching provides in-process coordination primitives for the
// widget runtime.
package caching

import (
	"sync"
	"time"
)

// SubmissionLock is the single-flight gate on answer submissions: at most
// one submission/initial-resume phase may run at a time. A submit arriving
// while the lock is held is a silent no-op. The lock is an injected
// dependency rather than a package global so tests can instantiate
// isolated locks.
type SubmissionLock struct {
	mu        sync.Mutex
	inFlight  bool
	requestID string
	startedAt time.Time
}

// NewSubmissionLock creates a released lock.
func NewSubmissionLock() *SubmissionLock {
	return &SubmissionLock{}
}

// TryAcquire attempts to take the lock for the workflow identified by
// requestID. It returns false without blocking when another workflow holds
// it.
func (l *SubmissionLock) TryAcquire(requestID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight {
		return false
	}
	l.inFlight = true
	l.requestID = requestID
	l.startedAt = now
	return true
}

// Release clears the lock if it is still held by requestID. Releasing is
// idempotent: every workflow exit path calls it, and a stale release from a
// superseded workflow is a no-op. A stuck lock would permanently block the
// shopper from retrying.
func (l *SubmissionLock) Release(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.inFlight || l.requestID != requestID {
		return
	}
	l.inFlight = false
	l.requestID = ""
	l.startedAt = time.Time{}
}

// Holder reports the requestID currently holding the lock.
func (l *SubmissionLock) Holder() (requestID string, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requestID, l.inFlight
}

// HeldSince reports when the current holder acquired the lock.
func (l *SubmissionLock) HeldSince() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt, l.inFlight
}
