package types

import (
	"math/big"
	"time"
)

// PublicationRecord is one entry of the on-chain registry log.
type PublicationRecord struct {
	// ContentHash is the root identifier of the published bundle.
	ContentHash ContentIdentifier `json:"contenthash" yaml:"contenthash"`
	// Timestamp is the creation time in unix milliseconds, as written.
	Timestamp int64 `json:"timestamp" yaml:"timestamp"`
	// Creator is the submitting account (set by the contract).
	Creator string `json:"creator_address" yaml:"creator_address"`
	// AgentName is the profile name.
	AgentName string `json:"agent_name" yaml:"agent_name"`
	// AgentIntro is the profile intro.
	AgentIntro string `json:"agent_intro" yaml:"agent_intro"`
	// Identity is the name-service name.
	Identity string `json:"ens_name" yaml:"ens_name"`
	// AvatarHash is the avatar identifier.
	AvatarHash ContentIdentifier `json:"avatar_contenthash" yaml:"avatar_contenthash"`
	// Extension is reserved for future record fields.
	Extension string `json:"extension,omitempty" yaml:"extension,omitempty"`
	// Optional is reserved for future record fields.
	Optional string `json:"optional_field,omitempty" yaml:"optional_field,omitempty"`
}

// CreatedAt converts the millisecond timestamp.
func (r *PublicationRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// UploadReceipt is the storage network's acknowledgement for one entry.
type UploadReceipt struct {
	// Name is the entry name as reported by the backend.
	Name string `json:"name"`
	// Hash is the network-assigned identifier.
	Hash ContentIdentifier `json:"hash"`
	// Size is the reported cumulative size.
	Size int64 `json:"size"`
}

// Publication is the successful outcome of a publish attempt.
type Publication struct {
	Root    ContentIdentifier `json:"root"`
	Avatar  ContentIdentifier `json:"avatar"`
	TxID    string            `json:"tx_id"`
	ChainID int64             `json:"chain_id"`
	Fee     *big.Int          `json:"fee"`
	Size    int64             `json:"size"`
	Bundle  string            `json:"bundle"`
}
