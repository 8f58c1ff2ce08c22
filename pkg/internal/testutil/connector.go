package testutil

import (
	"context"
	"sync"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// StaticResolver resolves every BPN to a fixed endpoint list.
type StaticResolver struct {
	Endpoints []string
	Err       error
}

func (r *StaticResolver) ConnectorEndpoints(_ context.Context, _ types.BPN) ([]string, error) {
	return r.Endpoints, r.Err
}

// StubConnector implements connector.Client against canned catalogs and
// tokens. Every negotiation, eviction and purge is recorded so tests can
// assert deduplication and retry behavior.
type StubConnector struct {
	mu sync.Mutex

	// Catalogs is keyed by counterparty address.
	Catalogs   map[string]connector.Catalog
	CatalogErr error

	// DataplaneURL is the dataplane every negotiated EDR points at.
	DataplaneURL string
	// Dataplanes overrides the dataplane per asset id.
	Dataplanes map[string]string
	// Tokens overrides the access token per asset id; the default is
	// "token-<assetID>".
	Tokens map[string]string
	// NegotiateErr holds terminal failures by asset id.
	NegotiateErr map[string]error
	// TransientFailures counts down failures served before success, by asset
	// id.
	TransientFailures map[string]int

	negotiations []string
	deletions    []connector.ConnectionKey
	purges       []string

	// DeleteResult is what DeleteConnection reports.
	DeleteResult bool
}

var _ connector.Client = (*StubConnector)(nil)

func (s *StubConnector) GetCatalog(_ context.Context, _ types.BPN, counterPartyAddress string, _ []connector.FilterExpression) (connector.Catalog, error) {
	if s.CatalogErr != nil {
		return nil, s.CatalogErr
	}
	catalog, ok := s.Catalogs[counterPartyAddress]
	if !ok {
		return connector.Catalog{}, nil
	}
	return catalog, nil
}

func (s *StubConnector) GetCatalogs(ctx context.Context, counterParties map[types.BPN]string, filter []connector.FilterExpression) map[types.BPN]connector.CatalogResult {
	out := make(map[types.BPN]connector.CatalogResult, len(counterParties))
	for bpn, address := range counterParties {
		catalog, err := s.GetCatalog(ctx, bpn, address, filter)
		out[bpn] = connector.CatalogResult{Catalog: catalog, Err: err}
	}
	return out
}

func (s *StubConnector) Negotiate(_ context.Context, _ types.BPN, _ string, _ []types.Policy, filter []connector.FilterExpression) (connector.EDR, error) {
	assetID := assetIDOf(filter)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiations = append(s.negotiations, assetID)

	if err, ok := s.NegotiateErr[assetID]; ok {
		return connector.EDR{}, err
	}
	if left, ok := s.TransientFailures[assetID]; ok && left > 0 {
		s.TransientFailures[assetID] = left - 1
		return connector.EDR{}, types.NewFailure(types.FailureExternalAPI, "negotiation for %s is flaky", assetID)
	}

	token := "token-" + assetID
	if t, ok := s.Tokens[assetID]; ok {
		token = t
	}
	dataplane := s.DataplaneURL
	if d, ok := s.Dataplanes[assetID]; ok {
		dataplane = d
	}
	return connector.EDR{DataplaneURL: dataplane, AccessToken: token, AssetID: assetID}, nil
}

func (s *StubConnector) NegotiateByAssetID(ctx context.Context, counterPartyID types.BPN, counterPartyAddress, assetID string, policies []types.Policy) (connector.EDR, error) {
	return s.Negotiate(ctx, counterPartyID, counterPartyAddress, policies, connector.AssetFilter(assetID))
}

func (s *StubConnector) DeleteConnection(_ context.Context, counterPartyID types.BPN, counterPartyAddress, queryChecksum, policyChecksum string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletions = append(s.deletions, connector.ConnectionKey{
		CounterPartyID:      counterPartyID,
		CounterPartyAddress: counterPartyAddress,
		QueryChecksum:       queryChecksum,
		PolicyChecksum:      policyChecksum,
	})
	return s.DeleteResult
}

func (s *StubConnector) ForcePurge(_ context.Context, _ types.BPN, assetID, _ string, _ []types.Policy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges = append(s.purges, assetID)
	return true
}

// Negotiations returns the asset ids negotiated so far, in call order.
func (s *StubConnector) Negotiations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.negotiations...)
}

// Deletions returns the recorded DeleteConnection keys.
func (s *StubConnector) Deletions() []connector.ConnectionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]connector.ConnectionKey(nil), s.deletions...)
}

// Purges returns the asset ids force purged so far.
func (s *StubConnector) Purges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.purges...)
}

func assetIDOf(filter []connector.FilterExpression) string {
	for _, f := range filter {
		if f.OperandLeft == connector.EDCAssetIDKey {
			if id, ok := f.OperandRight.(string); ok {
				return id
			}
		}
	}
	return ""
}
