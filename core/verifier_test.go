package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

// signedEnvelope builds a map already containing sender, signs the payload
// (everything but signature) with a fresh key, and attaches the signature.
func signedEnvelope(t *testing.T, extra map[string]interface{}) map[string]interface{} {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	envelope := map[string]interface{}{
		"item_hash": "abc",
		"chain":     "ETH",
		"sender":    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	for k, v := range extra {
		envelope[k] = v
	}
	payload, err := signaturePayload(envelope)
	if err != nil {
		t.Fatalf("signaturePayload() error: %v", err)
	}
	digest := sha256.Sum256(payload)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	envelope["signature"] = hex.EncodeToString(sig)
	return envelope
}

func TestETHVerifierAcceptsValidSignature(t *testing.T) {
	envelope := signedEnvelope(t, nil)

	ok, err := (ETHVerifier{}).Verify(context.Background(), envelope)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !ok {
		t.Fatalf("Verify() = false, want true")
	}
}

func TestETHVerifierRejectsWrongSender(t *testing.T) {
	envelope := signedEnvelope(t, nil)
	envelope["sender"] = "0x0000000000000000000000000000000000000000"

	ok, err := (ETHVerifier{}).Verify(context.Background(), envelope)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if ok {
		t.Fatalf("Verify() = true, want false for mismatched sender")
	}
}

func TestETHVerifierMissingSignature(t *testing.T) {
	_, err := (ETHVerifier{}).Verify(context.Background(), map[string]interface{}{"sender": "0xabc"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestNULSVerifierAcceptsValidSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	envelope := map[string]interface{}{
		"item_hash": "abc",
		"chain":     "NULS",
		"sender":    nulsAddress(1, &key.PublicKey),
	}
	payload, err := signaturePayload(envelope)
	if err != nil {
		t.Fatalf("signaturePayload() error: %v", err)
	}
	digest := sha256.Sum256(payload)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	envelope["signature"] = hex.EncodeToString(sig)

	ok, err := (NULSVerifier{ChainID: 1}).Verify(context.Background(), envelope)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !ok {
		t.Fatalf("Verify() = false, want true")
	}
}
