package common

import (
	"errors"
	"testing"
	"time"
)

func TestQuotaOperationLimit(t *testing.T) {
	q := Quota{MaxOperationsPerEpoch: 10, EpochSeconds: 60}
	now := time.Unix(90, 0)

	next, err := q.Check(now, QuotaNow{EpochID: q.EpochAt(now)}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.OpCount != 10 {
		t.Fatalf("unexpected operation count: %d", next.OpCount)
	}

	denied, err := q.Check(now, next, 1, 0)
	if !errors.Is(err, ErrQuotaOperationsExceeded) {
		t.Fatalf("expected ErrQuotaOperationsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := q.Check(now.Add(time.Minute), next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != next.EpochID+1 || rollover.OpCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestQuotaVolumeLimit(t *testing.T) {
	q := Quota{MaxWeiPerEpoch: 1000, EpochSeconds: 60}
	now := time.Unix(300, 0)

	next, err := q.Check(now, QuotaNow{EpochID: q.EpochAt(now)}, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.WeiUsed != 1000 {
		t.Fatalf("unexpected volume used: %d", next.WeiUsed)
	}

	denied, err := q.Check(now, next, 0, 1)
	if !errors.Is(err, ErrQuotaVolumeExceeded) {
		t.Fatalf("expected ErrQuotaVolumeExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := q.Check(now.Add(time.Minute), next, 0, 500)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.WeiUsed != 500 {
		t.Fatalf("unexpected volume used after rollover: %d", rollover.WeiUsed)
	}
}

func TestQuotaEpochDefaults(t *testing.T) {
	var q Quota
	if q.Enabled() {
		t.Fatalf("zero quota should be disabled")
	}
	if got := q.EpochAt(time.Unix(119, 0)); got != 1 {
		t.Fatalf("expected default minute epochs, got epoch %d", got)
	}
	if got := (Quota{EpochSeconds: 3600}).EpochAt(time.Unix(7200, 0)); got != 2 {
		t.Fatalf("expected hour epoch 2, got %d", got)
	}
}
