package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/glyphvault/anchor"
	"xdao.co/glyphvault/canonical"
	"xdao.co/glyphvault/cidutil"
	"xdao.co/glyphvault/glyph"
	"xdao.co/glyphvault/ledger"
	"xdao.co/glyphvault/model"
	"xdao.co/glyphvault/storage"
)

// Vault ties the glyph factory, encrypted store, audit ledger and the
// optional chain and gateway clients into one value. Each Vault owns its own
// derived key, ledger connection and signing identity; nothing is read from
// ambient state.
type Vault struct {
	store   *Store
	ledger  *ledger.Ledger
	factory *glyph.Factory
	chain   *anchor.Client
	gateway storage.Gateway
	log     *zap.Logger
	actor   string
	locks   *keyedMutex
	now     func() int64
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithChainClient enables on-chain anchoring.
func WithChainClient(c *anchor.Client) VaultOption {
	return func(v *Vault) { v.chain = c }
}

// WithGateway enables payload import/export against the content gateway.
func WithGateway(gw storage.Gateway) VaultOption {
	return func(v *Vault) { v.gateway = gw }
}

// WithLogger attaches a logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) VaultOption {
	return func(v *Vault) { v.log = log }
}

// WithActor sets the audit actor recorded for vault-initiated actions.
func WithActor(actor string) VaultOption {
	return func(v *Vault) { v.actor = actor }
}

// New constructs a Vault from its mandatory collaborators.
func New(store *Store, led *ledger.Ledger, factory *glyph.Factory, opts ...VaultOption) (*Vault, error) {
	if store == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-VAULT-030", "encrypted store is required")
	}
	if led == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-VAULT-031", "audit ledger is required")
	}
	if factory == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-VAULT-032", "glyph factory is required")
	}
	v := &Vault{
		store:   store,
		ledger:  led,
		factory: factory,
		log:     zap.NewNop(),
		actor:   "vault",
		locks:   newKeyedMutex(),
		now:     func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Create derives, signs, encrypts and records a glyph for (data, source) as
// one atomic unit under the per-id lock.
//
// Creation is idempotent: two ingestions of identical content racing resolve
// to the same stored glyph, with exactly one CREATED entry. The blob write
// precedes the ledger commit and is safe to replay, so a crash between the
// two never leaves a ledger entry without its blob.
func (v *Vault) Create(ctx context.Context, data map[string]any, source string) (*model.Glyph, error) {
	g, err := v.factory.Create(data, source)
	if err != nil {
		return nil, err
	}

	unlock := v.locks.lock(g.ID)
	defer unlock()

	exists, err := v.ledger.Has(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		stored, err := v.store.Get(g.ID)
		if err != nil {
			return nil, err
		}
		v.log.Debug("glyph already exists", zap.String("glyph_id", g.ID))
		return stored, nil
	}

	if err := v.store.Put(g); err != nil {
		return nil, err
	}
	if err := v.ledger.RecordGlyph(ctx, g, v.actor); err != nil {
		return nil, err
	}
	v.log.Info("glyph created",
		zap.String("glyph_id", g.ID),
		zap.String("source", source),
		zap.String("signer", g.Signer),
	)
	return g, nil
}

// Get retrieves and decrypts a glyph and logs the access.
//
// An id the ledger has never seen is NotFound; a recorded glyph whose blob
// is missing or undecryptable is Integrity.
func (v *Vault) Get(ctx context.Context, id string) (*model.Glyph, error) {
	unlock := v.locks.lock(id)
	defer unlock()

	g, err := v.store.Get(id)
	if err != nil {
		if model.IsNotFound(err) {
			known, lerr := v.ledger.Has(ctx, id)
			if lerr != nil {
				return nil, lerr
			}
			if known {
				return nil, model.NewError(model.KindIntegrity, "GV-VAULT-040", "blob missing for recorded glyph")
			}
		}
		return nil, err
	}
	if err := v.ledger.LogAction(ctx, id, model.ActionAccessed, v.actor, ""); err != nil {
		return nil, err
	}
	return g, nil
}

// Proof assembles the provenance report for a glyph from the ledger:
// summary fields, freshly recomputed signature validity, and the full audit
// trail.
func (v *Vault) Proof(ctx context.Context, id string) (*model.ProofResponse, error) {
	s, err := v.ledger.GetGlyph(ctx, id)
	if err != nil {
		return nil, err
	}
	trail, err := v.ledger.AuditTrail(ctx, id)
	if err != nil {
		return nil, err
	}

	sigValid := glyph.Verify(&model.Glyph{
		DataHash:  s.DataHash,
		Signer:    s.Signer,
		Signature: s.Signature,
	})

	// The data hash covers the canonical payload bytes, so it doubles as the
	// CID the payload has on the content gateway.
	var payloadCID string
	if c, err := cidutil.CIDFromHexDigest(s.DataHash); err == nil {
		payloadCID = c.String()
	}
	return &model.ProofResponse{
		GlyphID:          s.ID,
		DataHash:         s.DataHash,
		Source:           s.Source,
		Timestamp:        s.Timestamp,
		Signer:           s.Signer,
		Signature:        s.Signature,
		SignatureValid:   sigValid,
		Verified:         s.Verified,
		PayloadCID:       payloadCID,
		AuditTrail:       trail,
		ProofGeneratedAt: v.now(),
	}, nil
}

// List returns up to limit glyph summaries, optionally filtered by source.
func (v *Vault) List(ctx context.Context, sourceFilter string, limit int) ([]model.GlyphSummary, error) {
	return v.ledger.List(ctx, sourceFilter, limit)
}

// Anchor batches the given glyph ids into a Merkle root and anchors it on
// chain, logging an ANCHORED action for every glyph in the batch. Requires a
// chain client.
func (v *Vault) Anchor(ctx context.Context, ids []string) (*model.AnchorResult, error) {
	if v.chain == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-VAULT-050", "no chain client configured")
	}
	for _, id := range ids {
		known, err := v.ledger.Has(ctx, id)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, model.NewError(model.KindNotFound, "GV-VAULT-051", "batch references unknown glyph id "+id)
		}
	}

	res, err := v.chain.Anchor(ctx, ids)
	if err != nil {
		return nil, err
	}
	if res.Status == model.AnchorSubmitted {
		meta := fmt.Sprintf(`{"root":%q,"tx":%q}`, res.Root, res.TxHash)
		for _, id := range ids {
			if err := v.ledger.LogAction(ctx, id, model.ActionAnchored, v.actor, meta); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

// ImportFromGateway downloads content from the gateway and creates a glyph
// for it. The payload wraps the raw bytes with their CID; the audit trail
// gets an IMPORTED action. Requires a gateway.
func (v *Vault) ImportFromGateway(ctx context.Context, contentID cid.Cid, source string) (*model.Glyph, error) {
	if v.gateway == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-VAULT-060", "no gateway configured")
	}
	b, err := v.gateway.Download(ctx, contentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, model.WrapError(model.KindNotFound, "GV-VAULT-061", "content not present on gateway", err)
		}
		return nil, model.WrapError(model.KindInternal, "GV-VAULT-062", "gateway download failed", err)
	}

	data := map[string]any{
		"cid":     contentID.String(),
		"content": base64.StdEncoding.EncodeToString(b),
	}
	g, err := v.Create(ctx, data, source)
	if err != nil {
		return nil, err
	}
	meta := fmt.Sprintf(`{"cid":%q}`, contentID.String())
	if err := v.ledger.LogAction(ctx, g.ID, model.ActionImported, v.actor, meta); err != nil {
		return nil, err
	}
	return g, nil
}

// ExportToGateway uploads a glyph's canonical payload bytes to the gateway
// and logs an EXPORTED action. Requires a gateway.
func (v *Vault) ExportToGateway(ctx context.Context, id string) (cid.Cid, error) {
	if v.gateway == nil {
		return cid.Undef, model.NewError(model.KindConfiguration, "GV-VAULT-063", "no gateway configured")
	}
	g, err := v.Get(ctx, id)
	if err != nil {
		return cid.Undef, err
	}
	if g.Data == nil {
		return cid.Undef, model.NewError(model.KindNotFound, "GV-VAULT-064", "glyph has no payload to export")
	}
	canon, err := canonical.Serialize(g.Data)
	if err != nil {
		return cid.Undef, err
	}
	contentID, err := v.gateway.Upload(ctx, canon)
	if err != nil {
		return cid.Undef, model.WrapError(model.KindInternal, "GV-VAULT-065", "gateway upload failed", err)
	}
	meta := fmt.Sprintf(`{"cid":%q}`, contentID.String())
	if err := v.ledger.LogAction(ctx, id, model.ActionExported, v.actor, meta); err != nil {
		return cid.Undef, err
	}
	return contentID, nil
}
