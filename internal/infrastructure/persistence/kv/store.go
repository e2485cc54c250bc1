// Package kv implements the two-scope durable key-value store the widget
// runtime persists its client state into: a persistent scope that survives
// restarts (visitor identities, exposure dedupe records) and a session scope
// that lives in process memory with TTLs (cached experiment definitions,
// shop config, last session ids).
package kv

import (
	"context"
	"time"
)

// Store is the persistent-scope read/write/clear contract.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// DeleteOlderThan removes every entry under prefix whose last write is
	// before cutoff. It returns the number of removed entries.
	DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error)
}

// Key builders for the persistent scope. Keeping them here means every
// consumer agrees on the layout the retention pruner sweeps.

// ExposureKeyPrefix is the namespace of exposure dedupe records.
const ExposureKeyPrefix = "exposure:"

// ExposureKey builds the dedupe key for one visitor/experiment/variant/day.
func ExposureKey(visitorID, experimentKey, variantName string, day string) string {
	return ExposureKeyPrefix + visitorID + ":" + experimentKey + ":" + variantName + ":" + day
}

// VisitorKey builds the persistent record key for a visitor identity.
func VisitorKey(visitorID string) string {
	return "visitor:" + visitorID
}
