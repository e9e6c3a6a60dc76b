package core

import (
	"context"
	"errors"
	"runtime"
)

// authorizedFields is the whitelist CheckMessage projects an untrusted
// envelope onto before signature verification.
var authorizedFields = map[string]struct{}{
	"item_hash":    {},
	"item_content": {},
	"item_type":    {},
	"chain":        {},
	"channel":      {},
	"sender":       {},
	"type":         {},
	"time":         {},
	"signature":    {},
}

// CheckMessageOptions mirrors check_message's from_chain/from_network/trusted
// keyword arguments. from_chain and from_network are accepted for call-site
// parity with the source implementation but, like it, are not consulted by
// the checks themselves.
type CheckMessageOptions struct {
	FromChain   bool
	FromNetwork bool
	Trusted     bool
}

// yield gives other goroutines a turn between expensive per-message steps,
// bounding latency when many messages arrive in one batch. Go's scheduler
// already preempts goroutines, so this is a courtesy Gosched rather than a
// blocking wait.
func yield() {
	runtime.Gosched()
}

// CheckMessage validates an untyped envelope: shape, inline-content hash,
// item_type classification, field whitelist, and chain signature. A
// nil, nil return means the message was rejected without error: rejection
// is signalled by a nil result, never an error value. envelope's item_type
// is set in place; a trusted envelope is returned as is, while an untrusted
// one yields a new map holding only the whitelisted fields.
func CheckMessage(ctx context.Context, envelope map[string]interface{}, opts CheckMessageOptions, verifiers *VerifierRegistry) (map[string]interface{}, error) {
	itemHash, ok := envelope["item_hash"].(string)
	if !ok {
		return nil, nil
	}
	chain, ok := envelope["chain"].(string)
	if !ok {
		return nil, nil
	}
	if channel, present := envelope["channel"]; present && channel != nil {
		if _, ok := channel.(string); !ok {
			return nil, nil
		}
	}
	if _, ok := envelope["sender"].(string); !ok {
		return nil, nil
	}
	if _, ok := envelope["signature"].(string); !ok {
		return nil, nil
	}

	if rawContent, present := envelope["item_content"]; present && rawContent != nil {
		content, ok := rawContent.(string)
		if !ok {
			return nil, nil
		}
		if len(content) > MaxInlineSize {
			return nil, nil
		}
		yield()

		hashType, _ := envelope["hash_type"].(string)
		if hashType == "" {
			hashType = "sha256"
		}
		if hashType != "sha256" {
			return nil, nil
		}
		if !opts.Trusted {
			if got := Sha256Hex([]byte(content)); got != itemHash {
				return nil, nil
			}
		}
		envelope["item_type"] = string(ItemInline)
	} else {
		// Classification failure keeps the declared item_type, falling back
		// to the default engine when none was declared. Intentional
		// tolerance, not a bug.
		if itemType, err := ClassifyHash(itemHash); err == nil {
			envelope["item_type"] = string(itemType)
		} else if declared, ok := envelope["item_type"].(string); ok && declared != "" {
			envelope["item_type"] = declared
		} else {
			envelope["item_type"] = string(ItemStorage)
		}
	}

	if opts.Trusted {
		return envelope, nil
	}

	projected := make(map[string]interface{}, len(authorizedFields))
	for k := range authorizedFields {
		if v, present := envelope[k]; present {
			projected[k] = v
		}
	}
	yield()

	projectedChain, _ := projected["chain"].(string)
	if projectedChain == "" {
		projectedChain = chain
	}
	verifier, ok := verifiers.Lookup(projectedChain)
	if !ok {
		return nil, nil
	}
	valid, err := verifier.Verify(ctx, projected)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return nil, nil
		}
		return nil, err
	}
	if !valid {
		return nil, nil
	}
	return projected, nil
}

// DecodeMessage converts a checked, whitelisted envelope into the typed
// Message the pending-work pipeline stores and replays. Fields absent from
// the map keep the zero value, matching the envelope's optional fields
// (channel, item_content).
func DecodeMessage(envelope map[string]interface{}) Message {
	var m Message
	m.ItemHash, _ = envelope["item_hash"].(string)
	m.Chain, _ = envelope["chain"].(string)
	m.Sender, _ = envelope["sender"].(string)
	m.Signature, _ = envelope["signature"].(string)
	m.Type, _ = envelope["type"].(string)
	if t, ok := envelope["time"].(float64); ok {
		m.Time = t
	}
	if it, ok := envelope["item_type"].(string); ok {
		m.ItemType = ItemType(it)
	}
	if ch, ok := envelope["channel"].(string); ok {
		m.Channel = &ch
	}
	if ic, ok := envelope["item_content"].(string); ok {
		m.ItemContent = []byte(ic)
	}
	return m
}
