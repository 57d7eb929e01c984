// Package reader provides the read-side data access layer for the aipfs CLI.
//
// Read-only commands go through a Reader, which aggregates the attempt
// journal and the on-chain registry into response payloads. The same
// payloads back every output format and the TUI views.
package reader

import "time"

// InspectAttemptResponse is the journaled view of one publication attempt.
type InspectAttemptResponse struct {
	AttemptID  string    `json:"attempt_id"`
	Attempt    int       `json:"attempt"`
	ResumeOf   *string   `json:"resume_of"`
	Account    string    `json:"account"`
	ChainID    int64     `json:"chain_id"`
	State      string    `json:"state"`
	AgentName  string    `json:"agent_name,omitempty"`
	BundleName string    `json:"bundle_name,omitempty"`
	TxID       string    `json:"tx_id,omitempty"`
	RootCID    string    `json:"root_cid,omitempty"`
	AvatarCID  string    `json:"avatar_cid,omitempty"`
	Fee        string    `json:"fee,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// Trace lists the journaled states in order.
	Trace []string `json:"trace"`
	// Resumable is set when the attempt paid but never published.
	Resumable bool `json:"resumable"`
}

// AttemptStats counts attempts by their latest state.
type AttemptStats struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
	// Aborted attempts ended before payment.
	Aborted  int `json:"aborted"`
	InFlight int `json:"in_flight"`
	// Resumable counts paid transactions with no published attempt.
	Resumable int `json:"resumable"`
}

// ListAttemptItem is one row of the attempt history.
type ListAttemptItem struct {
	AttemptID string    `json:"attempt_id"`
	Attempt   int       `json:"attempt"`
	State     string    `json:"state"`
	AgentName string    `json:"agent_name"`
	TxID      string    `json:"tx_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListAttemptsOptions filters ListAttempts.
type ListAttemptsOptions struct {
	Account string
	State   string
	Limit   int
}

// ListRecordItem is one registry record.
type ListRecordItem struct {
	AgentName string    `json:"agent_name"`
	Identity  string    `json:"ens_name"`
	Creator   string    `json:"creator_address"`
	Root      string    `json:"contenthash"`
	Avatar    string    `json:"avatar_contenthash"`
	Intro     string    `json:"agent_intro"`
	CreatedAt time.Time `json:"created_at"`
}

// ListRecordsResponse is one page of registry records, newest first.
type ListRecordsResponse struct {
	Total   uint64           `json:"total"`
	Page    int              `json:"page"`
	Size    int              `json:"size"`
	Records []ListRecordItem `json:"records"`
}

// TableRows renders the page as its records in table output.
func (r *ListRecordsResponse) TableRows() any { return r.Records }

// FeeResponse is the registry's current publication fee.
type FeeResponse struct {
	Registry string `json:"registry"`
	ChainID  int64  `json:"chain_id"`
	Wei      string `json:"wei"`
	Ether    string `json:"ether"`
}
