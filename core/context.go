package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"aleph-node/pkg/config"
)

// Context bundles the process-wide collaborators every core operation
// needs: the store, the pending queues, the resolver, the verifier
// registry, and the peer/distributed-network adapters. It is constructed
// once at startup and is read-only thereafter.
type Context struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Store     LocalStore
	Queues    *PendingQueues
	Resolver  *Resolver
	Verifiers *VerifierRegistry
	Overlay   *PeerOverlay
	IPFS      *IPFSClient

	mongoClient  *mongo.Client
	contentStore *MongoStore // unwrapped, for EnsureIndexes; nil when not Mongo-backed
}

// NewContext wires a production Context from cfg: connects to MongoDB,
// optionally starts the libp2p peer overlay and the IPFS gateway client,
// and registers the illustrative ETH/BNB/NULS verifiers.
func NewContext(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Context, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	db := client.Database(cfg.MongoDB.Database)

	contentStore := NewMongoStore(db)
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	store := NewLoggedStore(contentStore, zapLogger)
	queues := NewPendingQueues(db)

	var overlay *PeerOverlay
	if len(cfg.P2P.Clients) > 0 {
		o, err := NewPeerOverlay(ctx, cfg.P2P.ListenAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("start peer overlay: %w", err)
		}
		o.SetStore(store)
		o.DialSeed(ctx, cfg.P2P.BootstrapPeers)
		overlay = o
	}

	var ipfsClient *IPFSClient
	if cfg.IPFS.Enabled {
		ipfsClient = NewIPFSClient(cfg.IPFS.Gateway, nil)
	}

	verifiers := NewVerifierRegistry()
	verifiers.Register("ETH", ETHVerifier{})
	verifiers.Register("BNB", ETHVerifier{})
	verifiers.Register("NULS", NULSVerifier{ChainID: cfg.Nuls.ChainID})

	resolver := NewResolver(store, overlay, ipfsClient, cfg.P2P.Clients, cfg.IPFS.Enabled, logger)

	return &Context{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Queues:       queues,
		Resolver:     resolver,
		Verifiers:    verifiers,
		Overlay:      overlay,
		IPFS:         ipfsClient,
		mongoClient:  client,
		contentStore: contentStore,
	}, nil
}

// EnsureIndexes creates the Mongo indexes the pending queues and content
// store rely on, the operation cmd/alephd's "migrate" subcommand drives.
func (c *Context) EnsureIndexes(ctx context.Context) error {
	if err := c.Queues.EnsureIndexes(ctx); err != nil {
		return err
	}
	if c.contentStore != nil {
		return c.contentStore.EnsureIndexes(ctx)
	}
	return nil
}

// Close releases the underlying MongoDB connection and peer overlay host.
func (c *Context) Close(ctx context.Context) error {
	if c.Overlay != nil {
		_ = c.Overlay.Close()
	}
	if c.mongoClient != nil {
		return c.mongoClient.Disconnect(ctx)
	}
	return nil
}
