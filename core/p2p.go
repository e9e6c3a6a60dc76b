package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// ContentProtocolID is the libp2p stream protocol the binary overlay
// transport speaks for request-by-hash.
const ContentProtocolID = protocol.ID("/aleph/content/1.0.0")

// PeerOverlay is the peer-overlay adapter: a libp2p host exposing both
// the binary stream transport for request-by-hash and a pubsub join the
// ingestion entrypoint consumes frames from.
type PeerOverlay struct {
	host   host.Host
	pubsub *pubsub.PubSub
	logger *logrus.Logger
	store  LocalStore // answers inbound binary-stream requests; nil until SetStore

	mu    sync.RWMutex
	peers map[peer.ID]string // known HTTP peer addresses, for the fallback transport
}

// NewPeerOverlay constructs a libp2p host listening on listenAddr and
// wires gossipsub on top of it.
func NewPeerOverlay(ctx context.Context, listenAddr string, logger *logrus.Logger) (*PeerOverlay, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	o := &PeerOverlay{
		host:   h,
		pubsub: ps,
		logger: logger,
		peers:  make(map[peer.ID]string),
	}
	h.SetStreamHandler(ContentProtocolID, o.handleContentStream)
	return o, nil
}

// SetStore wires the LocalStore the binary stream handler answers inbound
// request_hash calls from, one-shot at startup like the rest of core.Context.
func (o *PeerOverlay) SetStore(store LocalStore) {
	o.store = store
}

// DialSeed connects to a set of bootstrap multiaddrs. Individual dial
// failures are logged and skipped; bootstrap is best-effort.
func (o *PeerOverlay) DialSeed(ctx context.Context, addrs []string) {
	for _, addr := range addrs {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			o.logger.Warnf("invalid bootstrap addr %s: %v", addr, err)
			continue
		}
		if err := o.host.Connect(ctx, *pi); err != nil {
			o.logger.Warnf("dial bootstrap %s: %v", addr, err)
			continue
		}
		o.mu.Lock()
		o.peers[pi.ID] = addr
		o.mu.Unlock()
	}
}

// handleContentStream answers an inbound request-by-hash: the peer writes
// a newline-terminated hash, we answer with the local store's bytes (or an
// empty line for a miss).
func (o *PeerOverlay) handleContentStream(s network.Stream) {
	defer s.Close()
	reader := bufio.NewReader(s)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	hash := trimNewline(line)
	if o.store == nil {
		s.Write([]byte{'\n'})
		return
	}
	data, ok := o.store.Get(hash)
	if !ok {
		s.Write([]byte{'\n'})
		return
	}
	s.Write(data)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// KnownHTTPPeers returns the HTTP addresses of every peer dialed so far,
// the fallback transport's candidate list when the binary stream misses.
func (o *PeerOverlay) KnownHTTPPeers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	addrs := make([]string, 0, len(o.peers))
	for _, addr := range o.peers {
		addrs = append(addrs, addr)
	}
	return addrs
}

// RequestHash asks every connected peer, over the binary stream transport,
// for hash. Returns the first non-empty response, or (nil, false) if none
// of them had it.
func (o *PeerOverlay) RequestHash(ctx context.Context, hash string) ([]byte, bool) {
	o.mu.RLock()
	ids := make([]peer.ID, 0, len(o.peers))
	for id := range o.peers {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		s, err := o.host.NewStream(streamCtx, id, ContentProtocolID)
		cancel()
		if err != nil {
			continue
		}
		if _, err := s.Write([]byte(hash + "\n")); err != nil {
			s.Close()
			continue
		}
		data, err := io.ReadAll(s)
		s.Close()
		if err != nil || len(data) == 0 || string(data) == "\n" {
			continue // a lone newline is handleContentStream's miss reply
		}
		return data, true
	}
	return nil, false
}

// HTTPRequestHash asks a single peer address, over plain HTTP, for hash.
// This is the fallback transport used when the binary stream misses.
func HTTPRequestHash(ctx context.Context, peerAddr, hash string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/content/%s", peerAddr, hash)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request hash: %w", ErrTransientIO)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer http %d: %w", resp.StatusCode, ErrTransientIO)
	}
	return io.ReadAll(resp.Body)
}

// Subscribe joins topic and returns a channel of raw pubsub frame bytes,
// the feed the ingestion entrypoint decodes.
func (o *PeerOverlay) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	t, err := o.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- msg.Data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the host down, terminating every open stream and subscription.
func (o *PeerOverlay) Close() error {
	return o.host.Close()
}
