package core

import "errors"

// ItemType identifies which content-addressing scheme a hash belongs to.
type ItemType string

const (
	ItemInline  ItemType = "inline"
	ItemStorage ItemType = "storage"
	ItemIPFS    ItemType = "ipfs"
)

// MaxInlineSize is the largest item_content payload the validator accepts.
const MaxInlineSize = 200_000

// ContentSource tags where a StoredContent's bytes ultimately came from.
type ContentSource string

const (
	SourceDB     ContentSource = "DB"
	SourceP2P    ContentSource = "P2P"
	SourceIPFS   ContentSource = "IPFS"
	SourceInline ContentSource = "inline"
)

// StoredContent is the common header shared by every resolved payload.
type StoredContent struct {
	Hash   string
	Source ContentSource
}

// RawContent is a StoredContent specialization carrying raw bytes.
type RawContent struct {
	StoredContent
	Value []byte
}

// JsonContent is a StoredContent specialization carrying decoded JSON.
type JsonContent struct {
	StoredContent
	Value      interface{}
	RawContent []byte
}

// Message is the normalized, whitelisted message envelope. Only these
// fields survive CheckMessage's projection for an untrusted message.
type Message struct {
	ItemHash    string   `json:"item_hash"`
	ItemContent []byte   `json:"item_content,omitempty"`
	ItemType    ItemType `json:"item_type"`
	Chain       string   `json:"chain"`
	Channel     *string  `json:"channel,omitempty"`
	Sender      string   `json:"sender"`
	Type        string   `json:"type"`
	Time        float64  `json:"time"`
	Signature   string   `json:"signature"`

	// HashType is outside the whitelist: DecodeMessage leaves it empty, and
	// CheckMessage reads hash_type from the raw envelope map, not from this
	// field.
	HashType string `json:"hash_type,omitempty"`
}

// PendingSource records where a pending message came from, for replay and
// dedup bookkeeping downstream.
type PendingSource struct {
	ChainName    string `bson:"chain_name,omitempty" json:"chain_name,omitempty"`
	TxHash       string `bson:"tx_hash,omitempty" json:"tx_hash,omitempty"`
	Height       int64  `bson:"height,omitempty" json:"height,omitempty"`
	CheckMessage bool   `bson:"check_message,omitempty" json:"check_message,omitempty"`
}

// PendingMessage is a queued message awaiting downstream handling.
type PendingMessage struct {
	ID      interface{}   `bson:"_id,omitempty"`
	Time    float64       `bson:"time"`
	Message Message       `bson:"message"`
	Source  PendingSource `bson:"source"`
}

// PendingTxContext describes the chain transaction a pending tx originated from.
type PendingTxContext struct {
	ChainName string  `bson:"chain_name" json:"chain_name"`
	TxHash    string  `bson:"tx_hash" json:"tx_hash"`
	Height    int64   `bson:"height" json:"height"`
	Time      float64 `bson:"time" json:"time"`
}

// PendingTx is a queued chain transaction awaiting message extraction.
type PendingTx struct {
	ID      interface{}      `bson:"_id,omitempty"`
	Time    float64          `bson:"time"`
	Content []byte           `bson:"content"`
	Context PendingTxContext `bson:"context"`
}

// Error taxonomy. These are checked with errors.Is,
// with adapter-level causes wrapped underneath via fmt.Errorf("...: %w").
var (
	// ErrInvalidContent marks bytes that don't match their declared hash,
	// or otherwise malformed content. Never retriable.
	ErrInvalidContent = errors.New("invalid content")

	// ErrContentUnavailable marks a resolve that exhausted every source.
	// Retriable: the caller may queue the work for a later sweep.
	ErrContentUnavailable = errors.New("content currently unavailable")

	// ErrInvalidArgument marks a malformed call (unknown engine or item
	// type, a hash outside its scheme's alphabet, an envelope a verifier
	// finds malformed). Fatal for the record in question. CheckMessage
	// rejects unknown chains and unsupported hash_type with a nil result
	// instead.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransientIO marks a network or store error below the adapter
	// boundary; sweep-level callers log and leave the record pending.
	ErrTransientIO = errors.New("transient io error")
)
