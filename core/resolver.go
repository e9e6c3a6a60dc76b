package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Resolver performs multi-source content fetch with verification and
// write-through caching. Resolution order is DB, then peer overlay, then
// IPFS, stopping at the first source that yields bytes.
type Resolver struct {
	store       LocalStore
	overlay     *PeerOverlay
	ipfs        *IPFSClient
	streamOK    bool // "protocol" present in p2p.clients
	httpOK      bool // "http" present in p2p.clients
	ipfsEnabled bool
	logger      *logrus.Logger
}

// NewResolver wires a Resolver. overlay and ipfs may be nil when those
// subsystems are disabled; p2pClients mirrors the p2p.clients config set.
func NewResolver(store LocalStore, overlay *PeerOverlay, ipfs *IPFSClient, p2pClients []string, ipfsEnabled bool, logger *logrus.Logger) *Resolver {
	var streamOK, httpOK bool
	for _, c := range p2pClients {
		switch c {
		case "protocol":
			streamOK = true
		case "http":
			httpOK = true
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{
		store:       store,
		overlay:     overlay,
		ipfs:        ipfs,
		streamOK:    streamOK,
		httpOK:      httpOK,
		ipfsEnabled: ipfsEnabled,
		logger:      logger,
	}
}

// GetHashContent resolves hash to verified bytes, trying the local store,
// then (if useNetwork) the peer overlay, then (if useIPFS and engine is
// Ipfs) the distributed content network, caching on success when
// storeValue is set.
func (r *Resolver) GetHashContent(ctx context.Context, hash string, engine ItemType, timeout time.Duration, tries int, useNetwork, useIPFS, storeValue bool) (RawContent, error) {
	var (
		content []byte
		source  ContentSource
	)

	if data, ok := r.store.Get(hash); ok {
		content, source = data, SourceDB
	}

	if content == nil && useNetwork {
		data, src, err := r.fetchFromNetwork(ctx, hash, timeout)
		if err != nil {
			return RawContent{}, err
		}
		if data != nil {
			if err := r.VerifyContentHash(ctx, data, engine, hash); err != nil {
				return RawContent{}, err
			}
			content, source = data, src
		}
	}

	if content == nil && useIPFS && engine == ItemIPFS && r.ipfsEnabled && r.ipfs != nil {
		data, err := r.ipfs.Get(ctx, hash, timeout, tries)
		if err != nil {
			return RawContent{}, err
		}
		if err := r.VerifyContentHash(ctx, data, engine, hash); err != nil {
			return RawContent{}, err
		}
		content, source = data, SourceIPFS
	}

	if content == nil {
		return RawContent{}, fmt.Errorf("no source had content for %s: %w", hash, ErrContentUnavailable)
	}

	r.logger.Infof("got content from %s for %q", source, hash)

	if storeValue && source != SourceDB {
		if err := r.store.Set(hash, content); err != nil {
			r.logger.Warnf("write-through cache failed for %s: %v", hash, err)
		}
	}

	return RawContent{StoredContent: StoredContent{Hash: hash, Source: source}, Value: content}, nil
}

// fetchFromNetwork asks the peer overlay's binary stream transport first,
// then each known peer over HTTP, stopping at the first non-nil answer.
func (r *Resolver) fetchFromNetwork(ctx context.Context, hash string, timeout time.Duration) ([]byte, ContentSource, error) {
	if r.overlay == nil {
		return nil, "", nil
	}
	if r.streamOK {
		if data, ok := r.overlay.RequestHash(ctx, hash); ok {
			return data, SourceP2P, nil
		}
	}
	if r.httpOK {
		for _, addr := range r.overlay.KnownHTTPPeers() {
			data, err := HTTPRequestHash(ctx, addr, hash, timeout)
			if err != nil {
				r.logger.Warnf("http fallback to %s failed: %v", addr, err)
				continue
			}
			if data != nil {
				return data, SourceP2P, nil
			}
		}
	}
	return nil, "", nil
}

// VerifyContentHash checks fetched bytes against the hash declared for
// engine. Ipfs recomputes via the distributed network's own hashing
// scheme (CIDv0/v1 depending on expected's length); Storage recomputes a
// plain sha256. Any other engine is a caller error.
func (r *Resolver) VerifyContentHash(ctx context.Context, data []byte, engine ItemType, expected string) error {
	switch {
	case engine == ItemIPFS && r.ipfsEnabled:
		version := cidVersionFor(expected)
		type result struct {
			cid string
			err error
		}
		done := make(chan result, 1)
		go func() {
			cidStr, err := ComputeCID(data, version)
			done <- result{cidStr, err}
		}()
		select {
		case <-ctx.Done():
			return fmt.Errorf("cid recompute timed out for %s: %w", expected, ErrContentUnavailable)
		case res := <-done:
			if res.err != nil {
				return fmt.Errorf("compute cid for %s: %w", expected, ErrContentUnavailable)
			}
			if res.cid != expected {
				return fmt.Errorf("got a bad hash: expected %s but computed %s: %w", expected, res.cid, ErrInvalidContent)
			}
			return nil
		}
	case engine == ItemStorage:
		if got := Sha256Hex(data); got != expected {
			return fmt.Errorf("got a bad hash: expected %s but computed %s: %w", expected, got, ErrInvalidContent)
		}
		return nil
	default:
		return fmt.Errorf("invalid storage engine %q: %w", engine, ErrInvalidArgument)
	}
}

// GetJSON resolves hash's bytes and decodes them as JSON.
func (r *Resolver) GetJSON(ctx context.Context, hash string, engine ItemType, timeout time.Duration, tries int) (JsonContent, error) {
	raw, err := r.GetHashContent(ctx, hash, engine, timeout, tries, true, true, true)
	if err != nil {
		return JsonContent{}, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw.Value, &decoded); err != nil {
		return JsonContent{}, fmt.Errorf("cannot decode json for %s: %w", hash, ErrInvalidContent)
	}
	return JsonContent{StoredContent: raw.StoredContent, Value: decoded, RawContent: raw.Value}, nil
}

// addBytes hashes data per engine, writes it to the local store, and
// returns the resulting hash, the shared tail of AddJSON and AddFile.
func (r *Resolver) addBytes(ctx context.Context, data []byte, engine ItemType) (string, error) {
	var hash string
	switch engine {
	case ItemIPFS:
		if r.ipfs == nil {
			return "", fmt.Errorf("ipfs engine requested but subsystem disabled: %w", ErrInvalidArgument)
		}
		h, err := r.ipfs.AddBytes(ctx, data, 0)
		if err != nil {
			return "", err
		}
		hash = h
	case ItemStorage:
		hash = Sha256Hex(data)
	default:
		return "", fmt.Errorf("storage engine %q not supported: %w", engine, ErrInvalidArgument)
	}
	if err := r.store.Set(hash, data); err != nil {
		return "", fmt.Errorf("cache added content %s: %w", hash, err)
	}
	return hash, nil
}

// AddJSON serializes value to UTF-8 JSON bytes, hashes it per engine, and
// writes it to the local store.
func (r *Resolver) AddJSON(ctx context.Context, value interface{}, engine ItemType) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return r.addBytes(ctx, data, engine)
}

// AddFile consumes a byte stream and stores it symmetrically to AddJSON.
// name is accepted for parity with the upload call sites but isn't
// otherwise used: the local store is keyed purely by content hash.
func (r *Resolver) AddFile(ctx context.Context, stream io.Reader, name string, engine ItemType) (string, error) {
	data, err := io.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("read file stream: %w", err)
	}
	return r.addBytes(ctx, data, engine)
}

// PinHash asks the distributed content network to keep hash pinned, for
// callers that resolved it over Ipfs and want it to outlive the gateway's
// own cache.
func (r *Resolver) PinHash(ctx context.Context, hash string, timeout time.Duration, tries int) error {
	if r.ipfs == nil {
		return fmt.Errorf("ipfs subsystem disabled: %w", ErrInvalidArgument)
	}
	return r.ipfs.PinAdd(ctx, hash, timeout, tries)
}

// GetMessageContent resolves a message's content by its declared item_type:
// Inline decodes item_content directly, Storage/Ipfs defer to GetJSON.
func (r *Resolver) GetMessageContent(ctx context.Context, msg Message, timeout time.Duration, tries int) (JsonContent, error) {
	switch msg.ItemType {
	case ItemIPFS, ItemStorage:
		return r.GetJSON(ctx, msg.ItemHash, msg.ItemType, timeout, tries)
	case ItemInline:
		if msg.ItemContent == nil {
			return JsonContent{}, fmt.Errorf("no item_content in message %s: %w", msg.ItemHash, ErrInvalidContent)
		}
		var decoded interface{}
		if err := json.Unmarshal(msg.ItemContent, &decoded); err != nil {
			return JsonContent{}, fmt.Errorf("cannot decode json for %s: %w", msg.ItemHash, ErrInvalidContent)
		}
		return JsonContent{
			StoredContent: StoredContent{Hash: msg.ItemHash, Source: SourceInline},
			Value:         decoded,
			RawContent:    msg.ItemContent,
		}, nil
	default:
		return JsonContent{}, fmt.Errorf("unknown item type %q: %w", msg.ItemType, ErrInvalidArgument)
	}
}
