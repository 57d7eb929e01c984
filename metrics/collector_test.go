package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("fs")

	c.IncPublishStarted()
	c.IncPublishStarted()
	c.IncPublishStarted()
	c.IncPublishSucceeded()
	c.IncPublishAborted("user_rejected")
	c.IncPublishFailed("reconciliation_mismatch")
	c.IncPaymentSent()
	c.IncPaymentRejected()
	c.IncUploadAttempt(false)
	c.IncUploadAttempt(true)
	c.AddBytesUploaded(1024)
	c.IncReconcileMismatch()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()
	c.IncNotifySuccess()
	c.IncNotifyFailure()

	s := c.Snapshot()
	checks := []struct {
		name      string
		got, want int64
	}{
		{"PublishesStarted", s.PublishesStarted, 3},
		{"PublishesSucceeded", s.PublishesSucceeded, 1},
		{"PublishesAborted", s.PublishesAborted, 1},
		{"PublishesFailed", s.PublishesFailed, 1},
		{"PaymentsSent", s.PaymentsSent, 1},
		{"PaymentsRejected", s.PaymentsRejected, 1},
		{"UploadAttempts", s.UploadAttempts, 2},
		{"UploadRetries", s.UploadRetries, 1},
		{"BytesUploaded", s.BytesUploaded, 1024},
		{"ReconcileMismatches", s.ReconcileMismatches, 1},
		{"JournalWriteSuccess", s.JournalWriteSuccess, 2},
		{"JournalWriteFailure", s.JournalWriteFailure, 1},
		{"NotifySuccess", s.NotifySuccess, 1},
		{"NotifyFailure", s.NotifyFailure, 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
	if s.FailuresByKind["user_rejected"] != 1 || s.FailuresByKind["reconciliation_mismatch"] != 1 {
		t.Errorf("FailuresByKind = %v", s.FailuresByKind)
	}
	if s.StorageBackend != "fs" {
		t.Errorf("StorageBackend = %q", s.StorageBackend)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncPublishStarted()
	c.IncPublishFailed("network")
	c.IncUploadAttempt(true)
	c.AddBytesUploaded(1)
	if s := c.Snapshot(); s.PublishesStarted != 0 {
		t.Errorf("nil snapshot = %+v", s)
	}
}

func TestCollector_SnapshotIsolated(t *testing.T) {
	c := NewCollector("memory")
	c.IncPublishAborted("validation")
	s := c.Snapshot()
	c.IncPublishAborted("validation")
	if s.FailuresByKind["validation"] != 1 {
		t.Errorf("snapshot mutated: %v", s.FailuresByKind)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector("fs")
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			c.IncPublishStarted()
			c.IncUploadAttempt(false)
			c.IncPublishFailed("network")
		})
	}
	wg.Wait()
	s := c.Snapshot()
	if s.PublishesStarted != 50 || s.UploadAttempts != 50 || s.FailuresByKind["network"] != 50 {
		t.Errorf("snapshot = %+v", s)
	}
}
