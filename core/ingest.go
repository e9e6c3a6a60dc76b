package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
)

// DecodePubsubFrame unwraps a raw pubsub frame's payload: UTF-8 bytes,
// URL-percent-encoded, JSON-encoding a message envelope.
func DecodePubsubFrame(frame []byte) (map[string]interface{}, error) {
	raw, err := url.QueryUnescape(string(frame))
	if err != nil {
		return nil, fmt.Errorf("frame is not percent-encoded utf-8: %w", err)
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("frame is not json: %w", err)
	}
	return envelope, nil
}

// OnPubsubFrame decodes a raw pubsub frame, validates it against the
// untrusted/from-network path, and enqueues the accepted
// envelope into the pending-message queue. Frames that fail to decode are
// dropped with a log entry; frames that CheckMessage rejects are dropped
// silently. Neither case returns an error.
func (c *Context) OnPubsubFrame(ctx context.Context, frame []byte) {
	envelope, err := DecodePubsubFrame(frame)
	if err != nil {
		c.log().Warnf("dropping pubsub frame: %v", err)
		return
	}
	c.log().Debugf("new message! %v", envelope)

	checked, err := CheckMessage(ctx, envelope, CheckMessageOptions{FromNetwork: true}, c.Verifiers)
	if err != nil {
		c.log().Warnf("check_message error: %v", err)
		return
	}
	if checked == nil {
		return
	}

	msg := DecodeMessage(checked)
	doc := PendingMessage{Time: msg.Time, Message: msg}
	if _, err := c.Queues.Messages.InsertOne(ctx, doc); err != nil {
		c.log().Warnf("enqueue pending message %s: %v", msg.ItemHash, err)
	}
}

// ListenerTasks returns the goroutine bodies the supervisor should run
// alongside the pending-work jobs: the libp2p pubsub topic and, when
// ipfs.enabled, the IPFS pubsub channel, both funneling into
// OnPubsubFrame.
func (c *Context) ListenerTasks(topic string) []func(context.Context) error {
	var tasks []func(context.Context) error

	if c.Overlay != nil {
		tasks = append(tasks, func(ctx context.Context) error {
			frames, err := c.Overlay.Subscribe(ctx, topic)
			if err != nil {
				return err
			}
			for frame := range frames {
				c.OnPubsubFrame(ctx, frame)
			}
			return nil
		})
	}

	if c.IPFS != nil && c.Config != nil && c.Config.IPFS.Enabled {
		tasks = append(tasks, func(ctx context.Context) error {
			frames, err := c.IPFS.SubscribeTopic(ctx, topic)
			if err != nil {
				return err
			}
			for frame := range frames {
				c.OnPubsubFrame(ctx, frame)
			}
			return nil
		})
	}

	return tasks
}

func (c *Context) log() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}
