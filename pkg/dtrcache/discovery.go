package dtrcache

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/singleflight"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/workpool"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

var log = logging.Logger("dtrcache")

// DefaultDTRType is the asset type URI identifying a Digital Twin Registry
// dataset in a connector catalog.
const DefaultDTRType = "https://w3id.org/catenax/taxonomy#DigitalTwinRegistry"

const (
	dctTypeKey     = "dct:type"
	dctTypeFullKey = "http://purl.org/dc/terms/type"
)

// ConnectorResolver resolves a business partner to its connector endpoints.
// The EDC discovery service client implements it.
type ConnectorResolver interface {
	ConnectorEndpoints(ctx context.Context, bpn types.BPN) ([]string, error)
}

// Discovery is the read-through layer of the DTR cache: fresh shards answer
// from memory, expired shards trigger catalog re-discovery. Concurrent reads
// of the same expired BPN share one refresh.
type Discovery struct {
	cache     *Cache
	connector connector.Client
	resolver  ConnectorResolver
	dtrType   string
	group     singleflight.Group
}

// DiscoveryOption configures the discovery layer.
type DiscoveryOption func(*Discovery)

// WithDTRType overrides the asset type URI used by the DTR asset test.
func WithDTRType(uri string) DiscoveryOption {
	return func(d *Discovery) {
		d.dtrType = uri
	}
}

// NewDiscovery wires the cache to the connector client and BPN resolver.
func NewDiscovery(cache *Cache, conn connector.Client, resolver ConnectorResolver, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		cache:     cache,
		connector: conn,
		resolver:  resolver,
		dtrType:   DefaultDTRType,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Cache exposes the underlying cache for direct reads and purges.
func (d *Discovery) Cache() *Cache {
	return d.cache
}

// GetDTRs returns the BPN's registries, re-discovering them when the shard
// is expired. Re-discovery adds entries but never drops ones still offered
// upstream; failures leave a stale shard in place rather than emptying it.
func (d *Discovery) GetDTRs(ctx context.Context, bpn types.BPN) ([]types.DTR, error) {
	if !d.cache.IsExpired(bpn) {
		return d.cache.List(bpn), nil
	}

	_, err, _ := d.group.Do(string(bpn), func() (any, error) {
		if !d.cache.IsExpired(bpn) {
			return nil, nil
		}
		return nil, d.refresh(ctx, bpn)
	})
	if err != nil {
		// Serve stale entries when re-discovery fails and we have any.
		if stale := d.cache.List(bpn); len(stale) > 0 {
			log.Warnf("re-discovery for %s failed, serving %d stale entries: %s", bpn, len(stale), err)
			return stale, nil
		}
		return nil, err
	}
	return d.cache.List(bpn), nil
}

func (d *Discovery) refresh(ctx context.Context, bpn types.BPN) error {
	ctx, span := telemetry.StartSpan(ctx, "dtrcache.refresh")
	defer span.End()

	endpoints, err := d.resolver.ConnectorEndpoints(ctx, bpn)
	if err != nil {
		telemetry.Error(span, err, "resolving connector endpoints")
		return err
	}
	if len(endpoints) == 0 {
		return types.NewFailure(types.FailureNotFound, "no connector endpoints found for %s", bpn)
	}

	results := workpool.Map(ctx, len(endpoints), endpoints, func(ctx context.Context, endpoint string) (connector.Catalog, error) {
		return d.connector.GetCatalog(ctx, bpn, endpoint, nil)
	})

	found := 0
	var lastErr error
	for _, r := range results {
		if r.Err != nil {
			log.Warnf("catalog request to %s failed: %s", r.Job, r.Err)
			lastErr = r.Err
			continue
		}
		for _, dataset := range connector.Datasets(r.Out) {
			if !d.isDTR(dataset) {
				continue
			}
			assetID := connector.DatasetID(dataset)
			if assetID == "" {
				continue
			}
			d.cache.Add(bpn, r.Job, assetID, connector.CleanPolicies(dataset))
			found++
		}
	}

	if found == 0 && lastErr != nil {
		return lastErr
	}
	log.Debugf("discovered %d DTR datasets for %s across %d connectors", found, bpn, len(endpoints))
	return nil
}

// isDTR applies the DTR asset test: the dataset's dct:type property equals
// the configured type URI. The property may be a string or an @id object.
func (d *Discovery) isDTR(dataset map[string]any) bool {
	raw, ok := dataset[dctTypeKey]
	if !ok {
		raw, ok = dataset[dctTypeFullKey]
	}
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case string:
		return v == d.dtrType
	case map[string]any:
		id, _ := v["@id"].(string)
		return id == d.dtrType
	}
	return false
}
