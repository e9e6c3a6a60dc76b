package core

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Verifier validates a whitelisted envelope's signature against its sender,
// for the chain it is registered under. A Verify
// error wrapping ErrInvalidArgument signals malformed input and is treated
// by CheckMessage as a rejection; any other error propagates.
type Verifier interface {
	Verify(ctx context.Context, envelope map[string]interface{}) (bool, error)
}

// VerifierRegistry is the registry keyed by chain name that CheckMessage
// dispatches signature validation through.
type VerifierRegistry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// NewVerifierRegistry returns an empty registry.
func NewVerifierRegistry() *VerifierRegistry {
	return &VerifierRegistry{verifiers: make(map[string]Verifier)}
}

// Register installs v as the verifier for chain, replacing any prior entry.
func (r *VerifierRegistry) Register(chain string, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[chain] = v
}

// Lookup returns the verifier registered for chain, if any.
func (r *VerifierRegistry) Lookup(chain string) (Verifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[chain]
	return v, ok
}

// signaturePayload canonicalizes every authorized field except signature
// itself into the bytes a signature must be computed over, since
// verification runs against the whitelisted projection.
func signaturePayload(envelope map[string]interface{}) ([]byte, error) {
	payload := make(map[string]interface{}, len(envelope))
	for k, v := range envelope {
		if k == "signature" {
			continue
		}
		payload[k] = v
	}
	return json.Marshal(payload)
}

func decodeHexSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	b, err := hex.DecodeString(sig)
	if err != nil {
		return nil, err
	}
	if len(b) != 65 {
		return nil, errors.New("signature must be 65 bytes (r || s || v)")
	}
	out := make([]byte, 65)
	copy(out, b)
	if out[64] >= 27 {
		out[64] -= 27
	}
	return out, nil
}

func recoverPublicKey(envelope map[string]interface{}) (*ecdsa.PublicKey, error) {
	sig, _ := envelope["signature"].(string)
	if sig == "" {
		return nil, fmt.Errorf("missing signature: %w", ErrInvalidArgument)
	}
	sigBytes, err := decodeHexSignature(sig)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", ErrInvalidArgument)
	}
	payload, err := signaturePayload(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode signed payload: %w", err)
	}
	digest := sha256.Sum256(payload)
	return crypto.SigToPub(digest[:], sigBytes)
}

// ETHVerifier recovers a secp256k1 signature over the whitelisted envelope
// and compares the recovered address to the envelope's sender.
type ETHVerifier struct{}

// Verify implements Verifier.
func (ETHVerifier) Verify(ctx context.Context, envelope map[string]interface{}) (bool, error) {
	sender, _ := envelope["sender"].(string)
	if sender == "" {
		return false, fmt.Errorf("missing sender: %w", ErrInvalidArgument)
	}
	pubkey, err := recoverPublicKey(envelope)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return false, err
		}
		return false, nil // bad signature bytes: reject, not an error
	}
	recovered := crypto.PubkeyToAddress(*pubkey)
	return strings.EqualFold(recovered.Hex(), sender), nil
}

// NULSVerifier is a narrower illustrative verifier for the NULS chain,
// configured from nuls.chain_id; it shares ETHVerifier's secp256k1
// recovery but compares against a NULS-style prefixed address instead of
// an EVM one. Chain semantics beyond address derivation live with the
// chain-specific services, not here.
type NULSVerifier struct {
	ChainID int
}

// Verify implements Verifier.
func (v NULSVerifier) Verify(ctx context.Context, envelope map[string]interface{}) (bool, error) {
	sender, _ := envelope["sender"].(string)
	if sender == "" {
		return false, fmt.Errorf("missing sender: %w", ErrInvalidArgument)
	}
	pubkey, err := recoverPublicKey(envelope)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return false, err
		}
		return false, nil
	}
	return nulsAddress(v.ChainID, pubkey) == sender, nil
}

// nulsAddress derives a chain-id-prefixed hex address from a recovered
// public key, distinct from ETHVerifier's bare EVM address.
func nulsAddress(chainID int, pub *ecdsa.PublicKey) string {
	addr := crypto.PubkeyToAddress(*pub)
	return fmt.Sprintf("NULS%d%s", chainID, common.Bytes2Hex(addr.Bytes()))
}
