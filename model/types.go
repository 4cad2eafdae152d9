package model

// SignerServer is the sentinel signer identity for glyphs attested by the
// vault itself rather than a local key. A server attestation is a hash
// commitment, not an unforgeable signature; consumers must treat it as a
// lower assurance tier.
const SignerServer = "server"

// Audit actions written by the vault core. Callers may log additional
// free-form actions through AuditLedger.LogAction.
const (
	ActionCreated  = "CREATED"
	ActionAccessed = "ACCESSED"
	ActionAnchored = "ANCHORED"
	ActionImported = "IMPORTED"
	ActionExported = "EXPORTED"
)

// Glyph is a content-addressed, signed provenance record for a data payload.
//
// ID is derived from (DataHash, Source) and is never reassigned. DataHash
// must always equal the hash recomputed from Data.
type Glyph struct {
	ID          string         `json:"glyph_id"`
	DataHash    string         `json:"data_hash"`
	Source      string         `json:"source"`
	Timestamp   int64          `json:"timestamp"`
	Signer      string         `json:"signer"`
	Signature   string         `json:"signature"`
	PQSigner    string         `json:"pq_signer,omitempty"`
	PQSignature string         `json:"pq_signature,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Verified    bool           `json:"verified"`
}

// GlyphSummary is the ledger's payload-free view of a glyph.
type GlyphSummary struct {
	ID        string `json:"glyph_id"`
	DataHash  string `json:"data_hash"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
	Verified  bool   `json:"verified"`
}

// AuditEntry is one append-only lifecycle record. Entries are never updated
// or deleted.
type AuditEntry struct {
	GlyphID   string `json:"glyph_id"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Timestamp int64  `json:"timestamp"`
	Metadata  string `json:"metadata,omitempty"`
}

// ProofResponse is the provenance report consumed by callers such as the web
// layer. SignatureValid is recomputed at proof time; Verified is the cached
// creation-time flag and the two are reported separately.
type ProofResponse struct {
	GlyphID          string       `json:"glyph_id"`
	DataHash         string       `json:"data_hash"`
	Source           string       `json:"source"`
	Timestamp        int64        `json:"timestamp"`
	Signer           string       `json:"signer"`
	Signature        string       `json:"signature"`
	SignatureValid   bool         `json:"signature_valid"`
	Verified         bool         `json:"verified"`
	PayloadCID       string       `json:"payload_cid,omitempty"`
	AuditTrail       []AuditEntry `json:"audit_trail"`
	ProofGeneratedAt int64        `json:"proof_generated_at"`
}

// AnchorStatus values returned by chain anchoring.
type AnchorStatus string

const (
	AnchorSubmitted       AnchorStatus = "anchored"
	AnchorAlreadyAnchored AnchorStatus = "already_anchored"
)

// AnchorResult reports the outcome of anchoring a batch root on chain.
// TxHash, BlockNumber and GasUsed are zero-valued when Status is
// AnchorAlreadyAnchored.
type AnchorResult struct {
	Status      AnchorStatus `json:"status"`
	Root        string       `json:"root"`
	GlyphCount  int          `json:"glyph_count"`
	TxHash      string       `json:"tx_hash,omitempty"`
	BlockNumber uint64       `json:"block_number,omitempty"`
	GasUsed     uint64       `json:"gas_used,omitempty"`
}
