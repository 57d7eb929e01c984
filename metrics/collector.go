// Package metrics counts publication pipeline outcomes.
//
// The Collector accumulates counters for one process. It is a leaf package
// with no internal dependencies; all increment methods are nil-receiver
// safe so callers may run without a collector.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Publication lifecycle
	PublishesStarted   int64
	PublishesSucceeded int64
	PublishesFailed    int64
	// PublishesAborted counts attempts that ended before payment.
	PublishesAborted int64
	FailuresByKind   map[string]int64

	// Chain
	PaymentsSent     int64
	PaymentsRejected int64

	// Storage network
	UploadAttempts      int64
	UploadRetries       int64
	BytesUploaded       int64
	ReconcileMismatches int64

	// Journal
	JournalWriteSuccess int64
	JournalWriteFailure int64

	// Notifications
	NotifySuccess int64
	NotifyFailure int64

	// Dimensions
	StorageBackend string
}

// Collector accumulates pipeline metrics. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	publishesStarted   int64
	publishesSucceeded int64
	publishesFailed    int64
	publishesAborted   int64
	failuresByKind     map[string]int64

	paymentsSent     int64
	paymentsRejected int64

	uploadAttempts      int64
	uploadRetries       int64
	bytesUploaded       int64
	reconcileMismatches int64

	journalWriteSuccess int64
	journalWriteFailure int64

	notifySuccess int64
	notifyFailure int64

	storageBackend string
}

// NewCollector creates a Collector labelled with the journal backend.
func NewCollector(storageBackend string) *Collector {
	return &Collector{
		failuresByKind: make(map[string]int64),
		storageBackend: storageBackend,
	}
}

// add must only be called on a non-nil collector.
func (c *Collector) add(p *int64, n int64) {
	c.mu.Lock()
	*p += n
	c.mu.Unlock()
}

// IncPublishStarted records an attempt entering bundling.
func (c *Collector) IncPublishStarted() {
	if c != nil {
		c.add(&c.publishesStarted, 1)
	}
}

// IncPublishSucceeded records a published attempt.
func (c *Collector) IncPublishSucceeded() {
	if c != nil {
		c.add(&c.publishesSucceeded, 1)
	}
}

// IncPublishAborted records an attempt that ended before payment.
func (c *Collector) IncPublishAborted(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.publishesAborted++
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// IncPublishFailed records an attempt that failed after payment.
func (c *Collector) IncPublishFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.publishesFailed++
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// IncPaymentSent records a confirmed fee payment.
func (c *Collector) IncPaymentSent() {
	if c != nil {
		c.add(&c.paymentsSent, 1)
	}
}

// IncPaymentRejected records a dismissed signing prompt.
func (c *Collector) IncPaymentRejected() {
	if c != nil {
		c.add(&c.paymentsRejected, 1)
	}
}

// IncUploadAttempt records one upload request. retry marks non-first tries.
func (c *Collector) IncUploadAttempt(retry bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadAttempts++
	if retry {
		c.uploadRetries++
	}
	c.mu.Unlock()
}

// AddBytesUploaded records accepted bundle bytes.
func (c *Collector) AddBytesUploaded(n int64) {
	if c != nil {
		c.add(&c.bytesUploaded, n)
	}
}

// IncReconcileMismatch records a root the network disagreed on.
func (c *Collector) IncReconcileMismatch() {
	if c != nil {
		c.add(&c.reconcileMismatches, 1)
	}
}

// IncJournalWriteSuccess records a successful journal write (per call).
func (c *Collector) IncJournalWriteSuccess() {
	if c != nil {
		c.add(&c.journalWriteSuccess, 1)
	}
}

// IncJournalWriteFailure records a failed journal write (per call).
func (c *Collector) IncJournalWriteFailure() {
	if c != nil {
		c.add(&c.journalWriteFailure, 1)
	}
}

// IncNotifySuccess records a delivered notification.
func (c *Collector) IncNotifySuccess() {
	if c != nil {
		c.add(&c.notifySuccess, 1)
	}
}

// IncNotifyFailure records a notification that exhausted its retries.
func (c *Collector) IncNotifyFailure() {
	if c != nil {
		c.add(&c.notifyFailure, 1)
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		PublishesStarted:   c.publishesStarted,
		PublishesSucceeded: c.publishesSucceeded,
		PublishesFailed:    c.publishesFailed,
		PublishesAborted:   c.publishesAborted,
		FailuresByKind:     maps.Clone(c.failuresByKind),

		PaymentsSent:     c.paymentsSent,
		PaymentsRejected: c.paymentsRejected,

		UploadAttempts:      c.uploadAttempts,
		UploadRetries:       c.uploadRetries,
		BytesUploaded:       c.bytesUploaded,
		ReconcileMismatches: c.reconcileMismatches,

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,

		NotifySuccess: c.notifySuccess,
		NotifyFailure: c.notifyFailure,

		StorageBackend: c.storageBackend,
	}
}
