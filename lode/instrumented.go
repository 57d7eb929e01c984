package lode

import (
	"context"

	"github.com/pithecene-io/aipfs/metrics"
	"github.com/pithecene-io/aipfs/types"
)

// InstrumentedJournal counts journal write outcomes on a collector.
type InstrumentedJournal struct {
	inner     Journal
	collector *metrics.Collector
}

// NewInstrumentedJournal wraps inner with metrics.
func NewInstrumentedJournal(inner Journal, collector *metrics.Collector) *InstrumentedJournal {
	return &InstrumentedJournal{inner: inner, collector: collector}
}

func (j *InstrumentedJournal) record(err error) error {
	if err != nil {
		j.collector.IncJournalWriteFailure()
	} else {
		j.collector.IncJournalWriteSuccess()
	}
	return err
}

// Append implements Journal.
func (j *InstrumentedJournal) Append(ctx context.Context, rec *AttemptRecord) error {
	return j.record(j.inner.Append(ctx, rec))
}

// SaveBundle implements Journal.
func (j *InstrumentedJournal) SaveBundle(ctx context.Context, rec *AttemptRecord, b types.Bundle) error {
	return j.record(j.inner.SaveBundle(ctx, rec, b))
}

// Close implements Journal.
func (j *InstrumentedJournal) Close() error {
	return j.inner.Close()
}

var _ Journal = (*InstrumentedJournal)(nil)
