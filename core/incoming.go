package core

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultIncoming is a minimal downstream message handler covering the one
// piece of incoming-message behaviour this core actually owns: resolving
// the message's declared content. It reports a record as
// terminally handled once that content is either available or definitively
// invalid, and leaves it pending while the content is merely unavailable.
// Chain-state updates, message storage, and replay protection are the rest
// of incoming()'s real job and are out of this core's scope; wire a fuller
// implementation in its place for production use.
func DefaultIncoming(resolver *Resolver, logger *logrus.Logger) IncomingFunc {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(ctx context.Context, msg Message, source PendingSource, seen *SeenIDs, retrying bool) (bool, error) {
		seen.MarkSeen(source.ChainName, msg.ItemHash)

		if msg.ItemType == ItemInline {
			return true, nil
		}

		_, err := resolver.GetMessageContent(ctx, msg, 2*time.Second, 1)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrContentUnavailable):
			return false, nil
		case errors.Is(err, ErrInvalidContent), errors.Is(err, ErrInvalidArgument):
			logger.Warnf("discarding pending message %s: %v", msg.ItemHash, err)
			return true, nil
		default:
			return false, nil
		}
	}
}

// DefaultChaindataExtractor is a placeholder for the chain-specific
// extractor get_chaindata_messages: lacking chain semantics (explicitly out
// of scope here), it leaves every pending transaction in place for a real
// extractor to claim, matching the tx job's "null return" branch.
func DefaultChaindataExtractor(ctx context.Context, content []byte, txCtx PendingTxContext) (*TxExtractResult, error) {
	return nil, nil
}
