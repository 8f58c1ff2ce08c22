package connector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/testutil"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

const testAPIKey = "test-api-key"

// managementAPI fakes the consumer connector's management API: catalog
// requests, contract requests, EDR polling and data address resolution.
type managementAPI struct {
	*httptest.Server

	mu            sync.Mutex
	catalog       connector.Catalog
	catalogCalls  int
	contractCalls int
	pendingPolls  int
	expiresIn     float64
}

func newManagementAPI(t *testing.T) *managementAPI {
	m := &managementAPI{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/catalog/request", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(w, r) {
			return
		}
		m.mu.Lock()
		m.catalogCalls++
		catalog := m.catalog
		m.mu.Unlock()
		writeJSON(w, catalog)
	})
	mux.HandleFunc("POST /v3/edrs", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(w, r) {
			return
		}
		m.mu.Lock()
		m.contractCalls++
		m.mu.Unlock()
		writeJSON(w, map[string]any{"@id": "negotiation-1"})
	})
	mux.HandleFunc("POST /v3/edrs/request", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(w, r) {
			return
		}
		m.mu.Lock()
		pending := m.pendingPolls > 0
		if pending {
			m.pendingPolls--
		}
		m.mu.Unlock()
		if pending {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, []any{map[string]any{"transferProcessId": "tp-1"}})
	})
	mux.HandleFunc("GET /v3/edrs/tp-1/dataaddress", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(w, r) {
			return
		}
		m.mu.Lock()
		expiresIn := m.expiresIn
		m.mu.Unlock()
		address := map[string]any{
			"endpoint":      "https://dataplane.example/api",
			"authorization": "dataplane-token",
		}
		if expiresIn > 0 {
			address["tx-auth:expiresIn"] = expiresIn
		}
		writeJSON(w, address)
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *managementAPI) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-Api-Key") != testAPIKey {
		http.Error(w, "missing api key", http.StatusUnauthorized)
		return false
	}
	return true
}

func (m *managementAPI) contracts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contractCalls
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func acceptedPolicy() types.Policy {
	return map[string]any{
		"odrl:permission": []any{map[string]any{"odrl:action": "use"}},
	}
}

func catalogWithOffer(assetID string) connector.Catalog {
	return connector.Catalog{
		"dcat:dataset": map[string]any{
			"@id": assetID,
			"odrl:hasPolicy": map[string]any{
				"@id":             "offer-" + assetID,
				"@type":           "odrl:Offer",
				"odrl:permission": []any{map[string]any{"odrl:action": "use"}},
			},
		},
	}
}

func TestNegotiate(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = catalogWithOffer("asset-1")
	api.expiresIn = 3600

	c := connector.New(api.URL, testAPIKey, connector.WithPollInterval(time.Millisecond))

	edr := testutil.Must(c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", []types.Policy{acceptedPolicy()}))(t)
	require.Equal(t, "https://dataplane.example/api", edr.DataplaneURL)
	require.Equal(t, "dataplane-token", edr.AccessToken)
	require.Equal(t, "asset-1", edr.AssetID)
	require.False(t, edr.ExpiresAt.IsZero())
	require.False(t, edr.Expired(time.Now()))
	require.Equal(t, 1, api.contracts())

	// Second call is served from the connection cache.
	testutil.Must(c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", []types.Policy{acceptedPolicy()}))(t)
	require.Equal(t, 1, api.contracts())
}

func TestGetCatalogTimesOut(t *testing.T) {
	ctx := context.Background()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, connector.Catalog{})
	}))
	t.Cleanup(slow.Close)

	c := connector.New(slow.URL, testAPIKey, connector.WithCatalogTimeout(10*time.Millisecond))
	_, err := c.GetCatalog(ctx, "BPNL0000000001", "https://partner.example/dsp", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNegotiatePollsUntilEDRAvailable(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = catalogWithOffer("asset-1")
	api.pendingPolls = 2

	c := connector.New(api.URL, testAPIKey, connector.WithPollInterval(time.Millisecond))
	edr := testutil.Must(c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", nil))(t)
	require.Equal(t, "dataplane-token", edr.AccessToken)
}

func TestNegotiateConcurrentCallersShareOneNegotiation(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = catalogWithOffer("asset-1")

	c := connector.New(api.URL, testAPIKey, connector.WithPollInterval(time.Millisecond))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, api.contracts())
}

func TestNegotiateRejectsUnacceptablePolicy(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = catalogWithOffer("asset-1")

	c := connector.New(api.URL, testAPIKey)
	other := types.Policy(map[string]any{"odrl:permission": []any{map[string]any{"odrl:action": "distribute"}}})
	_, err := c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", []types.Policy{other})
	require.Error(t, err)
	require.Equal(t, types.FailurePermissionDenied, types.CodeOf(err))
	require.Contains(t, err.Error(), "No valid asset and policy allowed")
	require.Zero(t, api.contracts())
}

func TestNegotiateEmptyCatalog(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = connector.Catalog{}

	c := connector.New(api.URL, testAPIKey)
	_, err := c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", nil)
	require.Error(t, err)
	require.Equal(t, types.FailureNotFound, types.CodeOf(err))
}

func TestDeleteConnectionEvictsCachedToken(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = catalogWithOffer("asset-1")

	c := connector.New(api.URL, testAPIKey, connector.WithPollInterval(time.Millisecond))
	testutil.Must(c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", nil))(t)

	filter := connector.AssetFilter("asset-1")
	deleted := c.DeleteConnection(ctx, "BPNL0000000001", "https://partner.example/dsp",
		connector.QueryChecksum(filter), connector.PolicyChecksum(nil))
	require.True(t, deleted)

	// Deleting the same connection twice reports no state removed.
	deleted = c.DeleteConnection(ctx, "BPNL0000000001", "https://partner.example/dsp",
		connector.QueryChecksum(filter), connector.PolicyChecksum(nil))
	require.False(t, deleted)

	testutil.Must(c.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", nil))(t)
	require.Equal(t, 2, api.contracts())
}

func TestForcePurgeSweepsByAssetID(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = catalogWithOffer("asset-1")

	c := connector.New(api.URL, testAPIKey, connector.WithPollInterval(time.Millisecond))

	// Negotiate under a non-asset filter so the checksum deletion inside
	// ForcePurge misses and only the asset-id sweep can find the token.
	filter := connector.NewFilterExpression("dct:type", "=", "some-type")
	testutil.Must(c.Negotiate(ctx, "BPNL0000000001", "https://partner.example/dsp", nil, filter))(t)

	purged := c.ForcePurge(ctx, "BPNL0000000001", "asset-1", "https://partner.example/dsp", nil)
	require.True(t, purged)

	testutil.Must(c.Negotiate(ctx, "BPNL0000000001", "https://partner.example/dsp", nil, filter))(t)
	require.Equal(t, 2, api.contracts())
}

// memoryEDRStore is an in-memory EDRStore used to verify persistence wiring.
type memoryEDRStore struct {
	mu   sync.Mutex
	rows map[connector.ConnectionKey]connector.EDR
}

func newMemoryEDRStore() *memoryEDRStore {
	return &memoryEDRStore{rows: map[connector.ConnectionKey]connector.EDR{}}
}

func (s *memoryEDRStore) Put(_ context.Context, key connector.ConnectionKey, edr connector.EDR) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = edr
	return nil
}

func (s *memoryEDRStore) Get(_ context.Context, key connector.ConnectionKey) (connector.EDR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edr, ok := s.rows[key]
	if !ok {
		return connector.EDR{}, types.ErrKeyNotFound
	}
	return edr, nil
}

func (s *memoryEDRStore) Delete(_ context.Context, key connector.ConnectionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}

func (s *memoryEDRStore) DeleteByAssetID(_ context.Context, counterPartyID, assetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, edr := range s.rows {
		if key.CounterPartyID == counterPartyID && edr.AssetID == assetID {
			delete(s.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

func TestNegotiatedTokensSurviveRestartThroughStore(t *testing.T) {
	ctx := context.Background()
	api := newManagementAPI(t)
	api.catalog = catalogWithOffer("asset-1")
	store := newMemoryEDRStore()

	c1 := connector.New(api.URL, testAPIKey,
		connector.WithEDRStore(store), connector.WithPollInterval(time.Millisecond))
	testutil.Must(c1.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", nil))(t)
	require.Equal(t, 1, api.contracts())
	require.Len(t, store.rows, 1)

	// A fresh client with the same store finds the token without negotiating.
	c2 := connector.New(api.URL, testAPIKey,
		connector.WithEDRStore(store), connector.WithPollInterval(time.Millisecond))
	edr := testutil.Must(c2.NegotiateByAssetID(ctx, "BPNL0000000001", "https://partner.example/dsp", "asset-1", nil))(t)
	require.Equal(t, "dataplane-token", edr.AccessToken)
	require.Equal(t, 1, api.contracts())
}
