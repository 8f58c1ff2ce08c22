// Package discovery orchestrates the consumer-side retrieval pipeline:
// registry resolution, contract negotiation, shell lookup across registries,
// submodel resolution and parallel data fetch, with retry and token purging
// on stale negotiations.
package discovery

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log/v2"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dtrcache"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/shellindex"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

var log = logging.Logger("discovery")

const (
	// DefaultMaxRetries bounds negotiation attempts: one initial attempt plus
	// this many retries.
	DefaultMaxRetries = 2

	// DefaultPurgeSleep is the pause between a token purge and the single
	// renegotiate-refetch attempt.
	DefaultPurgeSleep = 5 * time.Second

	defaultNegotiationConcurrency = 10
	defaultFetchConcurrency       = 20

	// retryPause is the fixed pause between negotiation attempts.
	retryPause = time.Second
)

// Engine is the discovery orchestrator.
type Engine struct {
	dtrs      *dtrcache.Discovery
	connector connector.Client
	index     *shellindex.Index
	plane     *dataplane

	maxRetries             int
	purgeSleep             time.Duration
	negotiationConcurrency int
	fetchConcurrency       int
	sleep                  func(ctx context.Context, d time.Duration)
}

// Option configures the engine.
type Option func(*Engine)

// WithMaxRetries overrides the negotiation retry budget.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithPurgeSleep overrides the purge-retry pause. Tests shorten it.
func WithPurgeSleep(d time.Duration) Option {
	return func(e *Engine) {
		e.purgeSleep = d
	}
}

// WithNegotiationConcurrency bounds parallel asset negotiations.
func WithNegotiationConcurrency(n int) Option {
	return func(e *Engine) {
		e.negotiationConcurrency = n
	}
}

// WithFetchConcurrency bounds parallel submodel data fetches.
func WithFetchConcurrency(n int) Option {
	return func(e *Engine) {
		e.fetchConcurrency = n
	}
}

// WithDataplaneHTTPClient overrides the HTTP client for dataplane calls.
func WithDataplaneHTTPClient(hc *http.Client) Option {
	return func(e *Engine) {
		e.plane = &dataplane{http: hc}
	}
}

// New creates a discovery engine on top of the DTR cache, the connector
// client and the shell index.
func New(dtrs *dtrcache.Discovery, conn connector.Client, index *shellindex.Index, opts ...Option) *Engine {
	e := &Engine{
		dtrs:                   dtrs,
		connector:              conn,
		index:                  index,
		plane:                  &dataplane{http: telemetry.GetInstrumentedHTTPClient()},
		maxRetries:             DefaultMaxRetries,
		purgeSleep:             DefaultPurgeSleep,
		negotiationConcurrency: defaultNegotiationConcurrency,
		fetchConcurrency:       defaultFetchConcurrency,
		sleep:                  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetDTRs exposes registry resolution for the external interface.
func (e *Engine) GetDTRs(ctx context.Context, bpn types.BPN) ([]types.DTR, error) {
	return e.dtrs.GetDTRs(ctx, bpn)
}

// Index exposes the shell index.
func (e *Engine) Index() *shellindex.Index {
	return e.index
}

// negotiateDTR obtains a token for a registry asset, retrying up to
// maxRetries times. Each failed attempt evicts the cached connection; on
// terminal failure the registry entry itself is dropped from the cache so the
// next discovery starts clean.
func (e *Engine) negotiateDTR(ctx context.Context, bpn types.BPN, dtr types.DTR, policies []types.Policy) (connector.EDR, error) {
	filter := connector.AssetFilter(dtr.AssetID)
	edr, err := e.negotiateWithEviction(ctx, bpn, dtr.ConnectorURL, policies, filter)
	if err != nil {
		e.dtrs.Cache().Delete(bpn, dtr.AssetID)
	}
	return edr, err
}

// negotiateAsset obtains a token for a submodel asset with the same retry and
// eviction protocol, but without touching the DTR cache.
func (e *Engine) negotiateAsset(ctx context.Context, bpn types.BPN, connectorURL, assetID string, policies []types.Policy) (connector.EDR, error) {
	return e.negotiateWithEviction(ctx, bpn, connectorURL, policies, connector.AssetFilter(assetID))
}

func (e *Engine) negotiateWithEviction(ctx context.Context, bpn types.BPN, connectorURL string, policies []types.Policy, filter []connector.FilterExpression) (connector.EDR, error) {
	queryChecksum := connector.QueryChecksum(filter)
	policyChecksum := connector.PolicyChecksum(policies)

	var edr connector.EDR
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		edr, err = e.connector.Negotiate(ctx, bpn, connectorURL, policies, filter)
		if err == nil {
			return nil
		}
		log.Warnf("negotiation attempt %d/%d with %s failed: %s", attempt, e.maxRetries+1, bpn, err)
		e.connector.DeleteConnection(ctx, bpn, connectorURL, queryChecksum, policyChecksum)
		if types.CodeOf(err) == types.FailurePermissionDenied {
			// Policy rejection will not heal on retry.
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryPause), uint64(e.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return connector.EDR{}, types.WrapFailure(types.CodeOf(err), err, "negotiation failed: %s", err)
	}
	return edr, nil
}

// effectivePolicies applies the automatic negotiation fallback: explicit
// caller policies win, otherwise the registry's cached catalog policies.
func effectivePolicies(dtrPolicies []types.Policy, dtr types.DTR) []types.Policy {
	if len(dtrPolicies) > 0 {
		return dtrPolicies
	}
	return dtr.Policies
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
