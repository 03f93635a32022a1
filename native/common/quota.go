package common

import (
	"errors"
	"math"
	"time"
)

var (
	ErrQuotaOperationsExceeded = errors.New("quota operations exceeded")
	ErrQuotaVolumeExceeded     = errors.New("quota volume cap exceeded")
	ErrQuotaCounterOverflow    = errors.New("quota counter overflow")
)

// Quota limits how many operations and how much borrowed-asset volume one
// caller may push through per epoch. The zero value disables enforcement.
type Quota struct {
	MaxOperationsPerEpoch uint32
	MaxWeiPerEpoch        uint64
	EpochSeconds          uint32
}

const defaultEpochSeconds = 60

// QuotaNow captures the current quota usage counters for a caller.
type QuotaNow struct {
	OpCount uint32
	WeiUsed uint64
	EpochID uint64
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxOperationsPerEpoch > 0 || q.MaxWeiPerEpoch > 0
}

// EpochAt maps a wall-clock instant to the quota epoch containing it.
func (q Quota) EpochAt(now time.Time) uint64 {
	seconds := q.EpochSeconds
	if seconds == 0 {
		seconds = defaultEpochSeconds
	}
	return uint64(now.Unix()) / uint64(seconds)
}

// Check verifies whether the additional operations and volume fit within the
// quota for the epoch containing now. Counters reset on epoch rollover. The
// returned QuotaNow reflects the updated usage when the call is admitted and
// the unchanged previous usage when it is denied.
func (q Quota) Check(now time.Time, prev QuotaNow, addOps uint32, addWei uint64) (QuotaNow, error) {
	nowEpoch := q.EpochAt(now)
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addOps > 0 {
		if next.OpCount > math.MaxUint32-addOps {
			return prev, ErrQuotaCounterOverflow
		}
		next.OpCount += addOps
	}
	if q.MaxOperationsPerEpoch > 0 && next.OpCount > q.MaxOperationsPerEpoch {
		return prev, ErrQuotaOperationsExceeded
	}

	if addWei > 0 {
		if next.WeiUsed > math.MaxUint64-addWei {
			return prev, ErrQuotaCounterOverflow
		}
		next.WeiUsed += addWei
	}
	if q.MaxWeiPerEpoch > 0 && next.WeiUsed > q.MaxWeiPerEpoch {
		return prev, ErrQuotaVolumeExceeded
	}

	return next, nil
}
