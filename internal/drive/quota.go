package drive

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// Fixed thresholds for QuotaInfo and QuotaStats.
const (
	approachingPercent      = 70.0
	exceededPercent         = 95.0
	statsApproachingPercent = 80.0
)

// QuotaInfo is the quota summary shown to a user.
type QuotaInfo struct {
	Used               int64   `json:"used"`
	Total              int64   `json:"total"`
	Available          int64   `json:"available"`
	Percentage         float64 `json:"percentage"`
	Approaching        bool    `json:"is_approaching_limit"`
	Exceeded           bool    `json:"is_exceeded"`
	Unlimited          bool    `json:"is_unlimited"`
	UsedFormatted      string  `json:"used_formatted"`
	TotalFormatted     string  `json:"total_formatted"`
	AvailableFormatted string  `json:"available_formatted"`
}

// QuotaStats aggregates quota usage across all users.
type QuotaStats struct {
	TotalUsers  int     `json:"total_users"`
	TotalUsed   int64   `json:"total_used"`
	TotalQuota  int64   `json:"total_quota"`
	Approaching []*User `json:"users_approaching_limit"`
	OverQuota   []*User `json:"users_over_quota"`
}

// Admits reports whether n more bytes fit: quota <= 0 is unlimited and
// used+n == quota still fits.
func Admits(quota, used, n int64) bool {
	return quota <= 0 || used+n <= quota
}

// ComputeQuotaInfo derives the display summary from raw counters.
func ComputeQuotaInfo(used, total int64) QuotaInfo {
	info := QuotaInfo{
		Used:      used,
		Total:     total,
		Unlimited: total <= 0,
	}
	if total > 0 {
		info.Available = max(0, total-used)
		info.Percentage = math.Round(float64(used)/float64(total)*100*100) / 100
	}
	info.Approaching = info.Percentage >= approachingPercent
	info.Exceeded = info.Percentage >= exceededPercent && total > 0
	info.UsedFormatted = formatBytes(used)
	info.TotalFormatted = formatBytes(total)
	info.AvailableFormatted = formatBytes(info.Available)
	if info.Unlimited {
		info.TotalFormatted = "Unlimited"
		info.AvailableFormatted = "Unlimited"
	}
	return info
}

func formatBytes(n int64) string {
	return humanize.IBytes(uint64(max(0, n)))
}

// QuotaLedger keeps each user's used_bytes counter. Every mutation of a
// user's counter is serialized by a per-user lock on top of the atomic
// update in the database.
type QuotaLedger struct {
	database Database
	fs       afero.Fs
	locks    *keyedMutex
	logger   Logger
	metrics  Metrics
}

// NewQuotaLedger creates a QuotaLedger over the given volume.
func NewQuotaLedger(database Database, fsys afero.Fs, logger Logger, metrics Metrics) *QuotaLedger {
	return &QuotaLedger{
		database: database,
		fs:       fsys,
		locks:    newKeyedMutex(),
		logger:   logger,
		metrics:  metrics,
	}
}

func (q *QuotaLedger) load(userID int64) (*User, error) {
	u, err := q.database.FindUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	if u == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return u, nil
}

// CanAdmit reports whether the user can store n more bytes, using the
// persisted counters rather than the possibly stale ones on u.
func (q *QuotaLedger) CanAdmit(u *User, n int64) (bool, error) {
	fresh, err := q.load(u.ID)
	if err != nil {
		return false, err
	}
	return Admits(fresh.QuotaBytes, fresh.UsedBytes, n), nil
}

// Reserve checks admission and charges n bytes in one step, so concurrent
// writers for the same user cannot both pass the check and overshoot.
// A failed write must hand the bytes back with Adjust(userID, -n).
func (q *QuotaLedger) Reserve(userID int64, n int64) error {
	unlock := q.locks.Lock(userID)
	defer unlock()

	u, err := q.load(userID)
	if err != nil {
		return err
	}
	if !Admits(u.QuotaBytes, u.UsedBytes, n) {
		q.metrics.ObserveQuotaRejection()
		return fmt.Errorf("%w: %s needs %s, %s of %s used", ErrQuotaExceeded,
			u.Username, formatBytes(n), formatBytes(u.UsedBytes), formatBytes(u.QuotaBytes))
	}
	if _, err := q.database.AddUsedBytes(userID, n); err != nil {
		return fmt.Errorf("charging quota: %w", err)
	}
	return nil
}

// Adjust applies used_bytes = max(0, used_bytes + delta) and returns the new value.
func (q *QuotaLedger) Adjust(userID int64, delta int64) (int64, error) {
	unlock := q.locks.Lock(userID)
	defer unlock()

	used, err := q.database.AddUsedBytes(userID, delta)
	if err != nil {
		return 0, fmt.Errorf("adjusting quota of user %d by %d: %w", userID, delta, err)
	}
	return used, nil
}

// Reconcile recomputes used_bytes from the bytes under the user's root
// (trash included), stores it and returns it. Safe to call repeatedly.
func (q *QuotaLedger) Reconcile(ctx context.Context, u *User) (int64, error) {
	unlock := q.locks.Lock(u.ID)
	defer unlock()

	root := volumePath(UserRoot(u))
	actual, err := treeSize(ctx, q.fs, root)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, ioFailure("reconcile", UserRoot(u), err)
		}
		actual = 0
	}

	if err := q.database.SetUsedBytes(u.ID, actual); err != nil {
		return 0, fmt.Errorf("storing reconciled usage: %w", err)
	}
	if actual != u.UsedBytes {
		forUser(q.logger, u).Info("quota reconciled", "recorded", u.UsedBytes, "actual", actual)
	}
	u.UsedBytes = actual
	return actual, nil
}

// Info returns the user's current quota summary.
func (q *QuotaLedger) Info(u *User) (*QuotaInfo, error) {
	fresh, err := q.load(u.ID)
	if err != nil {
		return nil, err
	}
	info := ComputeQuotaInfo(fresh.UsedBytes, fresh.QuotaBytes)
	return &info, nil
}

// SetQuota changes a user's quota; 0 means unlimited.
func (q *QuotaLedger) SetQuota(userID int64, quotaBytes int64) error {
	if quotaBytes < 0 {
		return fmt.Errorf("%w: quota must not be negative", ErrInvalidRequest)
	}
	if _, err := q.load(userID); err != nil {
		return err
	}
	if err := q.database.SetQuotaBytes(userID, quotaBytes); err != nil {
		return fmt.Errorf("setting quota: %w", err)
	}
	return nil
}

// Stats summarizes quota usage across all users.
func (q *QuotaLedger) Stats() (*QuotaStats, error) {
	users, err := q.database.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	stats := &QuotaStats{TotalUsers: len(users)}
	for _, u := range users {
		stats.TotalUsed += u.UsedBytes
		stats.TotalQuota += max(0, u.QuotaBytes)
		if u.QuotaBytes <= 0 {
			continue
		}
		pct := float64(u.UsedBytes) / float64(u.QuotaBytes) * 100
		switch {
		case u.UsedBytes >= u.QuotaBytes:
			stats.OverQuota = append(stats.OverQuota, u)
		case pct >= statsApproachingPercent:
			stats.Approaching = append(stats.Approaching, u)
		}
	}
	return stats, nil
}
