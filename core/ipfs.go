package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"
)

// IPFSClient is the distributed-content-network adapter the resolver
// falls back to when the engine is Ipfs. It wraps an HTTP gateway's
// add/cat/pin/pubsub endpoints.
type IPFSClient struct {
	gateway string
	client  *http.Client
	logger  *logrus.Logger
}

// NewIPFSClient builds a client against the given gateway base URL
// (e.g. "http://127.0.0.1:5001").
func NewIPFSClient(gateway string, logger *logrus.Logger) *IPFSClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IPFSClient{
		gateway: gateway,
		client:  &http.Client{},
		logger:  logger,
	}
}

// ComputeCID recomputes the content identifier for data at the requested
// version, mirroring the "recompute via that network's hashing" step of
// content verification.
func ComputeCID(data []byte, version int) (string, error) {
	encodedMH, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash sum: %w", err)
	}
	var c cid.Cid
	if version == 0 {
		c = cid.NewCidV0(encodedMH)
	} else {
		c = cid.NewCidV1(cid.Raw, encodedMH)
	}
	return c.String(), nil
}

// cidVersionFor returns the CID version verification should recompute
// against: shorter expected hashes are CIDv0, longer are CIDv1.
func cidVersionFor(expectedHash string) int {
	if len(expectedHash) < 58 {
		return 0
	}
	return 1
}

// AddBytes pins data to the gateway, returning its CID at the given
// version.
func (c *IPFSClient) AddBytes(ctx context.Context, data []byte, cidVersion int) (string, error) {
	url := fmt.Sprintf("%s/api/v0/add?pin=true&cid-version=%d", c.gateway, cidVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build add request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("add bytes: %w", ErrTransientIO)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("gateway add %d: %s: %w", resp.StatusCode, string(b), ErrTransientIO)
	}

	var meta struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("decode add response: %w", err)
	}
	return meta.Hash, nil
}

// Get fetches bytes for hash from the gateway, retrying up to tries times
// within timeout per attempt.
func (c *IPFSClient) Get(ctx context.Context, hash string, timeout time.Duration, tries int) ([]byte, error) {
	if tries < 1 {
		tries = 1
	}
	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := c.getOnce(attemptCtx, hash)
		cancel()
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *IPFSClient) getOnce(ctx context.Context, hash string) ([]byte, error) {
	url := fmt.Sprintf("%s/ipfs/%s", c.gateway, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gateway fetch timeout for %s: %w", hash, ErrContentUnavailable)
		}
		return nil, fmt.Errorf("gateway fetch %s: %w", hash, ErrTransientIO)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 128))
		return nil, fmt.Errorf("gateway fetch %d: %s: %w", resp.StatusCode, string(b), ErrTransientIO)
	}
	return io.ReadAll(resp.Body)
}

// ipfsPubsubMessage is the line shape the gateway's pubsub subscribe
// endpoint streams: one JSON object per line, data base64-encoded.
type ipfsPubsubMessage struct {
	Data string `json:"data"`
}

// SubscribeTopic joins the IPFS pubsub channel for topic, the second
// listener funnel the ingestion entrypoint consumes alongside the libp2p
// overlay. The returned channel closes when ctx is done or the gateway
// connection drops.
func (c *IPFSClient) SubscribeTopic(ctx context.Context, topic string) (<-chan []byte, error) {
	reqURL := fmt.Sprintf("%s/api/v0/pubsub/sub?arg=%s", c.gateway, url.QueryEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build pubsub subscribe request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, ErrTransientIO)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("gateway pubsub sub %d: %w", resp.StatusCode, ErrTransientIO)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg ipfsPubsubMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				c.logger.Warnf("bad pubsub line on %s: %v", topic, err)
				continue
			}
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				c.logger.Warnf("bad pubsub payload on %s: %v", topic, err)
				continue
			}
			select {
			case out <- data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PinAdd pins an already-known hash on the distributed network without
// re-uploading its bytes.
func (c *IPFSClient) PinAdd(ctx context.Context, hash string, timeout time.Duration, tries int) error {
	if tries < 1 {
		tries = 1
	}
	url := fmt.Sprintf("%s/api/v0/pin/add?arg=%s", c.gateway, hash)
	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("build pin request: %w", err)
		}
		resp, err := c.client.Do(req)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("pin %s: %w", hash, ErrTransientIO)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("gateway pin %d: %w", resp.StatusCode, ErrTransientIO)
			continue
		}
		c.logger.Infof("pinned %s on distributed network", hash)
		return nil
	}
	return lastErr
}
