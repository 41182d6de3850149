package drive

import (
	"context"
	"time"
)

// ListingCache stores directory listings by opaque key with a TTL.
// Implementations may be process-local or shared between instances.
type ListingCache interface {
	// Get returns the entries stored under key. ok is false on a miss or
	// when the entry expired.
	Get(ctx context.Context, key string) (entries []DirectoryEntry, ok bool, err error)

	Set(ctx context.Context, key string, entries []DirectoryEntry, ttl time.Duration) error

	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Notifier delivers user notifications. Notify must not block the caller on
// delivery.
type Notifier interface {
	Notify(n Notification)
}

// Metrics receives engine events. A nil Metrics is replaced by NopMetrics.
type Metrics interface {
	ObserveCacheLookup(hit bool)
	ObserveQuotaRejection()
	ObserveMoveAttempt(strategy string, ok bool)
	ObservePurge(bytes int64)
	ObserveUpload(bytes int64, ok bool)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveCacheLookup(bool)         {}
func (NopMetrics) ObserveQuotaRejection()          {}
func (NopMetrics) ObserveMoveAttempt(string, bool) {}
func (NopMetrics) ObservePurge(int64)              {}
func (NopMetrics) ObserveUpload(int64, bool)       {}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// nopListingCache never stores anything; every lookup is a miss.
type nopListingCache struct{}

func (nopListingCache) Get(context.Context, string) ([]DirectoryEntry, bool, error) {
	return nil, false, nil
}
func (nopListingCache) Set(context.Context, string, []DirectoryEntry, time.Duration) error {
	return nil
}
func (nopListingCache) Delete(context.Context, ...string) error { return nil }
