package bpndiscovery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/bpndiscovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/testutil"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

const (
	finderPath = "/api/v1.0/administration/connection/discovery"
	searchPath = "/api/v1.0/administration/connection/bpn-discovery/search"
)

// searchServer is a BPN discovery endpoint returning fixed BPNs for every
// search.
func searchServer(t *testing.T, bpns ...string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+searchPath, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SearchFilter []struct {
				Type string   `json:"type"`
				Keys []string `json:"keys"`
			} `json:"searchFilter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.SearchFilter, 1)

		entries := make([]map[string]any, 0, len(bpns))
		for _, bpn := range bpns {
			entries = append(entries, map[string]any{
				"type":  body.SearchFilter[0].Type,
				"key":   body.SearchFilter[0].Keys[0],
				"value": bpn,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"bpns": entries})
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// finderServer is a discovery finder advertising the given endpoints as
// (type, resourceAddress) pairs.
func finderServer(t *testing.T, endpoints ...[2]string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+finderPath, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Types []string `json:"types"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Types, 1)

		entries := make([]map[string]any, 0, len(endpoints))
		for _, endpoint := range endpoints {
			entries = append(entries, map[string]any{
				"type":            endpoint[0],
				"resourceAddress": endpoint[1],
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"endpoints": entries})
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestDiscoverBPNs(t *testing.T) {
	ctx := context.Background()
	searchA := searchServer(t, "BPNL0000000001", "BPNL0000000002")
	searchB := searchServer(t, "BPNL0000000002", "BPNL0000000003")
	finder := finderServer(t,
		[2]string{"manufacturerPartId", searchA.URL},
		[2]string{"someOtherType", "https://ignored.example"},
		[2]string{"manufacturerPartId", searchB.URL},
	)

	client := bpndiscovery.New(finder.URL)
	bpns := testutil.Must(client.DiscoverBPNs(ctx, "manufacturerPartId", []string{"MPI-7"}))(t)

	// Duplicates across endpoints collapse; first-seen order is kept.
	require.Equal(t, []types.BPN{"BPNL0000000001", "BPNL0000000002", "BPNL0000000003"}, bpns)
}

func TestDiscoverBPNsNoEndpointForType(t *testing.T) {
	ctx := context.Background()
	finder := finderServer(t, [2]string{"someOtherType", "https://ignored.example"})

	client := bpndiscovery.New(finder.URL)
	_, err := client.DiscoverBPNs(ctx, "manufacturerPartId", []string{"MPI-7"})
	require.Error(t, err)
	require.Equal(t, types.FailureNotFound, types.CodeOf(err))
	require.Contains(t, err.Error(), "manufacturerPartId")
}

func TestDiscoverBPNsNoBPNFound(t *testing.T) {
	ctx := context.Background()
	search := searchServer(t)
	finder := finderServer(t, [2]string{"manufacturerPartId", search.URL})

	client := bpndiscovery.New(finder.URL)
	_, err := client.DiscoverBPNs(ctx, "manufacturerPartId", []string{"MPI-7"})
	require.Error(t, err)
	require.Equal(t, types.FailureNotFound, types.CodeOf(err))
}

func TestDiscoverBPNsSurvivesFailingEndpoint(t *testing.T) {
	ctx := context.Background()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)
	search := searchServer(t, "BPNL0000000001")
	finder := finderServer(t,
		[2]string{"manufacturerPartId", broken.URL},
		[2]string{"manufacturerPartId", search.URL},
	)

	client := bpndiscovery.New(finder.URL)
	bpns := testutil.Must(client.DiscoverBPNs(ctx, "manufacturerPartId", []string{"MPI-7"}))(t)
	require.Equal(t, []types.BPN{"BPNL0000000001"}, bpns)
}

func TestDiscoverBPNsDefaultIdentifierType(t *testing.T) {
	ctx := context.Background()
	var seenType string
	finder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Types []string `json:"types"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Types) == 1 {
			seenType = body.Types[0]
		}
		json.NewEncoder(w).Encode(map[string]any{"endpoints": []any{}})
	}))
	t.Cleanup(finder.Close)

	client := bpndiscovery.New(finder.URL)
	_, err := client.DiscoverBPNs(ctx, "", []string{"MPI-7"})
	require.Error(t, err)
	require.Equal(t, bpndiscovery.DefaultIdentifierType, seenType)
}

func TestDiscoverBPNsSendsBearerToken(t *testing.T) {
	ctx := context.Background()
	var finderAuth, searchAuth string

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	mux.HandleFunc("POST "+finderPath, func(w http.ResponseWriter, r *http.Request) {
		finderAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"endpoints": []any{
			map[string]any{"type": "manufacturerPartId", "resourceAddress": server.URL},
		}})
	})
	mux.HandleFunc("POST "+searchPath, func(w http.ResponseWriter, r *http.Request) {
		searchAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"bpns": []any{
			map[string]any{"type": "manufacturerPartId", "key": "MPI-7", "value": "BPNL0000000001"},
		}})
	})

	tokens := func(context.Context) (string, error) { return "portal-token", nil }
	client := bpndiscovery.New(server.URL, bpndiscovery.WithTokenSource(tokens))

	bpns := testutil.Must(client.DiscoverBPNs(ctx, "manufacturerPartId", []string{"MPI-7"}))(t)
	require.Equal(t, []types.BPN{"BPNL0000000001"}, bpns)
	require.Equal(t, "Bearer portal-token", finderAuth)
	require.Equal(t, "Bearer portal-token", searchAuth)
}

func TestConnectorEndpoints(t *testing.T) {
	ctx := context.Background()
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/administration/connectors/discovery", r.URL.Path)
		var bpns []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&bpns))
		require.Equal(t, []string{"BPNL0000000001"}, bpns)

		json.NewEncoder(w).Encode([]map[string]any{
			{"bpn": "BPNL0000000001", "connectorEndpoint": []string{"https://edc-a.example/dsp", "", "https://edc-b.example/dsp"}},
			{"bpn": "BPNL0000000099", "connectorEndpoint": []string{"https://stranger.example/dsp"}},
		})
	}))
	t.Cleanup(portal.Close)

	resolver := bpndiscovery.NewConnectorDiscovery(portal.URL)
	endpoints := testutil.Must(resolver.ConnectorEndpoints(ctx, "BPNL0000000001"))(t)
	require.Equal(t, []string{"https://edc-a.example/dsp", "https://edc-b.example/dsp"}, endpoints)
}
