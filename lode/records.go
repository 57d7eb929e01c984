// Package lode journals publication attempts to Lode storage.
//
// Every state change of an attempt is appended as one record to a
// Hive-partitioned dataset keyed by account and day. The bundle of each
// attempt is stored beside the records as an archive file so an upload
// can be resumed after the fee has been paid.
package lode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/aipfs/types"
)

// DefaultDataset is the journal dataset ID.
const DefaultDataset = "aipfs"

// RecordKindTransition marks a state transition record.
const RecordKindTransition = "transition"

// partitionKeys are the Hive layout keys, outermost first.
var partitionKeys = []string{"account", "day"}

// DeriveDay computes the partition day of t. Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AttemptRecord is one journaled state of a publication attempt.
type AttemptRecord struct {
	RecordKind     string `json:"record_kind"`
	JournalVersion string `json:"journal_version"`

	AttemptID string `json:"attempt_id"`
	Attempt   int    `json:"attempt"`
	ResumeOf  string `json:"resume_of,omitempty"`
	ChainID   int64  `json:"chain_id"`
	State     string `json:"state"`
	Ts        string `json:"ts"`

	TxID       string `json:"tx_id,omitempty"`
	RootCID    string `json:"root_cid,omitempty"`
	AvatarCID  string `json:"avatar_cid,omitempty"`
	AgentName  string `json:"agent_name,omitempty"`
	BundleName string `json:"bundle_name,omitempty"`
	FeeWei     string `json:"fee_wei,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`

	// Partition keys
	Account string `json:"account"`
	Day     string `json:"day"`
}

// NewAttemptRecord starts a record for meta in state at now.
func NewAttemptRecord(meta *types.AttemptMeta, state types.State, now time.Time) *AttemptRecord {
	rec := &AttemptRecord{
		AttemptID: meta.AttemptID,
		Attempt:   meta.Attempt,
		Account:   strings.ToLower(meta.Account),
		ChainID:   meta.ChainID,
		State:     string(state),
		Ts:        now.UTC().Format(time.RFC3339Nano),
		Day:       DeriveDay(now),
	}
	if meta.ResumeOf != nil {
		rec.ResumeOf = *meta.ResumeOf
	}
	return rec
}

// Time parses Ts.
func (r *AttemptRecord) Time() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, r.Ts)
	return t
}

// Terminal reports whether the record is an end state.
func (r *AttemptRecord) Terminal() bool {
	return types.State(r.State).Terminal()
}

// key identifies a record across cumulative snapshot reads.
func (r *AttemptRecord) key() string {
	return r.AttemptID + "/" + r.State + "/" + r.Ts
}

func (r *AttemptRecord) validate() error {
	switch {
	case r.AttemptID == "":
		return fmt.Errorf("journal record: attempt_id is required")
	case r.Account == "":
		return fmt.Errorf("journal record: account is required")
	case r.State == "":
		return fmt.Errorf("journal record: state is required")
	case r.Day == "":
		return fmt.Errorf("journal record: day is required")
	}
	return nil
}

// toMap renders the record in the form the Hive layout partitions on.
func (r *AttemptRecord) toMap() map[string]any {
	m := map[string]any{
		"record_kind":     r.RecordKind,
		"journal_version": r.JournalVersion,
		"attempt_id":      r.AttemptID,
		"attempt":         r.Attempt,
		"chain_id":        r.ChainID,
		"state":           r.State,
		"ts":              r.Ts,
		"account":         r.Account,
		"day":             r.Day,
	}
	optional := map[string]string{
		"resume_of":   r.ResumeOf,
		"tx_id":       r.TxID,
		"root_cid":    r.RootCID,
		"avatar_cid":  r.AvatarCID,
		"agent_name":  r.AgentName,
		"bundle_name": r.BundleName,
		"fee_wei":     r.FeeWei,
		"error_kind":  r.ErrorKind,
		"error":       r.Error,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// fromItem decodes a dataset item. ok is false for foreign records.
func fromItem(item any) (AttemptRecord, bool) {
	var rec AttemptRecord
	m, isMap := item.(map[string]any)
	if !isMap || m["record_kind"] != RecordKindTransition {
		return rec, false
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return rec, false
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false
	}
	return rec, true
}
