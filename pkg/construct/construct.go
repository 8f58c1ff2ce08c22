// Package construct wires the discovery service together from configuration.
package construct

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	logging "github.com/ipfs/go-log/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/blobstore"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/bpndiscovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/discovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dpp"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dtrcache"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/redis"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/shellindex"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
)

var log = logging.Logger("construct")

// Blob store modes.
const (
	StoreModeFilesystem = "filesystem"
	StoreModeHTTP       = "http"
	StoreModeS3         = "s3"
)

// ServiceConfig sets specific config values for the service.
type ServiceConfig struct {
	// ManagementURL is the consumer connector's management API.
	ManagementURL string
	// ManagementAPIKey authenticates against the management API.
	ManagementAPIKey string

	// PortalURL is the portal used for connector discovery (BPN to connector
	// endpoints).
	PortalURL string
	// DiscoveryFinderURL is the Discovery Finder resolving BPN discovery
	// endpoints.
	DiscoveryFinderURL string
	// BPNDiscoveryType is the identifier type searched during BPN discovery.
	BPNDiscoveryType string

	// DTRCacheExpiration is the DTR cache shard TTL.
	DTRCacheExpiration time.Duration
	// DTRType overrides the asset type URI of the DTR asset test.
	DTRType string

	// EDRRedis enables the persisted EDR connection store when set.
	EDRRedis *goredis.Options

	// SubmodelStoreMode selects the blob store backend.
	SubmodelStoreMode string
	// SubmodelStorePath is the filesystem backend root.
	SubmodelStorePath string
	// SubmodelStoreHTTP configures the HTTP backend.
	SubmodelStoreHTTP blobstore.HTTPConfig
	// SubmodelStoreBucket and SubmodelStorePrefix configure the S3 backend.
	SubmodelStoreBucket string
	SubmodelStorePrefix string
}

// Service is the assembled discovery service.
type Service struct {
	Connector connector.Client
	Engine    *discovery.Engine
	Workflow  *dpp.Workflow
	Blobs     blobstore.Store
}

type config struct {
	connectorClient connector.Client
	bpnClient       bpndiscovery.Client
	resolver        dtrcache.ConnectorResolver
	blobs           blobstore.Store
	engineOpts      []discovery.Option
}

// Option configures how the service is constructed.
type Option func(*config) error

// WithConnectorClient overrides the connector client. Tests use it.
func WithConnectorClient(c connector.Client) Option {
	return func(cfg *config) error {
		cfg.connectorClient = c
		return nil
	}
}

// WithBPNDiscoveryClient overrides the BPN discovery client.
func WithBPNDiscoveryClient(c bpndiscovery.Client) Option {
	return func(cfg *config) error {
		cfg.bpnClient = c
		return nil
	}
}

// WithConnectorResolver overrides the BPN to connector endpoint resolver.
func WithConnectorResolver(r dtrcache.ConnectorResolver) Option {
	return func(cfg *config) error {
		cfg.resolver = r
		return nil
	}
}

// WithBlobStore overrides the submodel blob store.
func WithBlobStore(s blobstore.Store) Option {
	return func(cfg *config) error {
		cfg.blobs = s
		return nil
	}
}

// WithEngineOptions passes options to the discovery engine.
func WithEngineOptions(opts ...discovery.Option) Option {
	return func(cfg *config) error {
		cfg.engineOpts = opts
		return nil
	}
}

// Construct builds the service.
func Construct(ctx context.Context, sc ServiceConfig, opts ...Option) (*Service, error) {
	cfg := &config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	conn := cfg.connectorClient
	if conn == nil {
		var connOpts []connector.Option
		if sc.EDRRedis != nil {
			client := telemetry.GetInstrumentedRedisClient(sc.EDRRedis)
			connOpts = append(connOpts, connector.WithEDRStore(redis.NewEDRStore(client)))
			log.Infof("persisting EDR connections in redis at %s", sc.EDRRedis.Addr)
		}
		conn = connector.New(sc.ManagementURL, sc.ManagementAPIKey, connOpts...)
	}

	resolver := cfg.resolver
	if resolver == nil {
		resolver = bpndiscovery.NewConnectorDiscovery(sc.PortalURL)
	}

	var cacheOpts []dtrcache.CacheOption
	if sc.DTRCacheExpiration > 0 {
		cacheOpts = append(cacheOpts, dtrcache.WithExpiration(sc.DTRCacheExpiration))
	}
	cache := dtrcache.NewCache(cacheOpts...)

	var discoveryOpts []dtrcache.DiscoveryOption
	if sc.DTRType != "" {
		discoveryOpts = append(discoveryOpts, dtrcache.WithDTRType(sc.DTRType))
	}
	dtrs := dtrcache.NewDiscovery(cache, conn, resolver, discoveryOpts...)

	engine := discovery.New(dtrs, conn, shellindex.New(), cfg.engineOpts...)

	bpns := cfg.bpnClient
	if bpns == nil {
		bpns = bpndiscovery.New(sc.DiscoveryFinderURL)
	}

	blobs := cfg.blobs
	if blobs == nil {
		var err error
		blobs, err = buildBlobStore(ctx, sc)
		if err != nil {
			return nil, err
		}
	}

	workflowOpts := []dpp.Option{dpp.WithBlobStore(blobs)}
	if sc.BPNDiscoveryType != "" {
		workflowOpts = append(workflowOpts, dpp.WithIdentifierType(sc.BPNDiscoveryType))
	}
	workflow := dpp.New(engine, bpns, dpp.NewTaskStore(), workflowOpts...)

	return &Service{
		Connector: conn,
		Engine:    engine,
		Workflow:  workflow,
		Blobs:     blobs,
	}, nil
}

func buildBlobStore(ctx context.Context, sc ServiceConfig) (blobstore.Store, error) {
	switch sc.SubmodelStoreMode {
	case StoreModeFilesystem:
		return blobstore.NewFilesystemStore(sc.SubmodelStorePath)
	case StoreModeHTTP:
		return blobstore.NewHTTPStore(sc.SubmodelStoreHTTP), nil
	case StoreModeS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return blobstore.NewS3Store(awsCfg, sc.SubmodelStoreBucket, sc.SubmodelStorePrefix), nil
	case "":
		// No blob store configured; fetched passports are not persisted.
		return nil, nil
	}
	return nil, fmt.Errorf("unknown submodel store mode %q", sc.SubmodelStoreMode)
}
