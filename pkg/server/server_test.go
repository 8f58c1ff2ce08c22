package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/bpndiscovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/discovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dpp"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dtrcache"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/testutil"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/server"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/shellindex"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

const (
	testBPN            = "BPNL0000000001"
	passportSemanticID = "urn:samm:io.catenax.generic.digital_product_passport:5.0.0#DigitalProductPassport"
)

type fixedBPNs []types.BPN

func (f fixedBPNs) DiscoverBPNs(context.Context, string, []string) ([]types.BPN, error) {
	if len(f) == 0 {
		return nil, types.NewFailure(types.FailureNotFound, "no BPN found")
	}
	return f, nil
}

var _ bpndiscovery.Client = fixedBPNs(nil)

// testService is the HTTP server with the fakes behind it.
type testService struct {
	*httptest.Server
	registry *testutil.RegistryServer
}

func newTestService(t *testing.T) *testService {
	registry := testutil.NewRegistryServer(t)
	conn := &testutil.StubConnector{DataplaneURL: registry.URL}

	cache := dtrcache.NewCache()
	cache.Add(testBPN, "https://partner.example/dsp", "registry-1", nil)
	dtrs := dtrcache.NewDiscovery(cache, conn, &testutil.StaticResolver{})
	engine := discovery.New(dtrs, conn, shellindex.New(), discovery.WithPurgeSleep(0))
	workflow := dpp.New(engine, fixedBPNs{testBPN}, dpp.NewTaskStore())

	s := httptest.NewServer(server.NewServer(engine, workflow))
	t.Cleanup(s.Close)
	return &testService{Server: s, registry: registry}
}

func (s *testService) post(t *testing.T, path string, body map[string]any) (*http.Response, []byte) {
	t.Helper()
	data := testutil.Must(json.Marshal(body))(t)
	res, err := http.Post(s.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer res.Body.Close()
	payload, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, payload
}

func TestGetRoot(t *testing.T) {
	s := newTestService(t)
	res, err := http.Get(s.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := testutil.Must(io.ReadAll(res.Body))(t)
	require.Contains(t, string(body), "dtr-discovery-service")
}

func TestPostRegistries(t *testing.T) {
	s := newTestService(t)
	res, body := s.post(t, "/discover/registries", map[string]any{"counterPartyId": testBPN})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		DTRs []types.DTR `json:"dtrs"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.DTRs, 1)
	require.Equal(t, "registry-1", out.DTRs[0].AssetID)
}

func TestMissingCounterPartyID(t *testing.T) {
	s := newTestService(t)
	res, body := s.post(t, "/discover/registries", map[string]any{})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	var out struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Contains(t, out.Error, "counterPartyId is required")
	require.Equal(t, http.StatusBadRequest, out.Status)
}

func TestPostShells(t *testing.T) {
	s := newTestService(t)
	s.registry.AddShell(testutil.Shell("shell-1"))
	s.registry.AddShell(testutil.Shell("shell-2"))

	res, body := s.post(t, "/discover/shells", map[string]any{
		"counterPartyId": testBPN,
		"querySpec":      []map[string]any{{"name": "manufacturerPartId", "value": "MPI-7"}},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out discovery.ShellsResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.ShellDescriptors, 2)
	require.Equal(t, 2, out.ShellsFound)
	require.Nil(t, out.Pagination)
}

func TestPostShellsPaginated(t *testing.T) {
	s := newTestService(t)
	for i := 1; i <= 3; i++ {
		s.registry.AddShell(testutil.Shell(fmt.Sprintf("shell-%d", i)))
	}

	res, body := s.post(t, "/discover/shells", map[string]any{
		"counterPartyId": testBPN,
		"limit":          2,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out discovery.ShellsResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.ShellDescriptors, 2)
	require.NotNil(t, out.Pagination)
	require.NotNil(t, out.Pagination.Next)
}

func TestPostShell(t *testing.T) {
	s := newTestService(t)
	s.registry.AddShell(testutil.Shell("shell-1"))

	res, body := s.post(t, "/discover/shell", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-1",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out discovery.ShellResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, "shell-1", types.ShellID(out.Shell))

	res, _ = s.post(t, "/discover/shell", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-unknown",
	})
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPostSubmodel(t *testing.T) {
	s := newTestService(t)
	href := s.registry.SetData("sub-1", map[string]any{"serial": "S1"})
	s.registry.AddShell(testutil.Shell("shell-1",
		testutil.Submodel("sub-1", passportSemanticID, "asset-1", "https://partner.example/dsp", href),
	))

	res, body := s.post(t, "/discover/shell/submodel", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-1",
		"submodelId":     "sub-1",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out discovery.SubmodelResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, discovery.StatusSuccess, out.Descriptor.Status)
	require.Equal(t, map[string]any{"serial": "S1"}, out.Data)

	// submodelId is mandatory.
	res, body = s.post(t, "/discover/shell/submodel", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-1",
	})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, string(body), "submodelId is required")
}

func TestPostSubmodels(t *testing.T) {
	s := newTestService(t)
	href := s.registry.SetData("sub-1", map[string]any{"serial": "S1"})
	s.registry.AddShell(testutil.Shell("shell-1",
		testutil.Submodel("sub-1", passportSemanticID, "asset-1", "https://partner.example/dsp", href),
	))

	res, body := s.post(t, "/discover/shell/submodels", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-1",
		"governance": map[string]any{
			passportSemanticID: []map[string]any{{"odrl:permission": "use"}},
		},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out discovery.SubmodelsResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, discovery.StatusSuccess, out.SubmodelDescriptors["sub-1"].Status)
	require.Equal(t, map[string]any{"serial": "S1"}, out.Submodels["sub-1"])
}

func TestPostSubmodelsBySemanticID(t *testing.T) {
	s := newTestService(t)
	href := s.registry.SetData("sub-1", map[string]any{"serial": "S1"})
	s.registry.AddShell(testutil.Shell("shell-1",
		testutil.Submodel("sub-1", passportSemanticID, "asset-1", "https://partner.example/dsp", href),
	))

	res, body := s.post(t, "/discover/shell/submodels/semanticId", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-1",
		"semanticIds":    []map[string]any{{"type": "GlobalReference", "value": passportSemanticID}},
		"governance":     []map[string]any{{"odrl:permission": "use"}},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out discovery.SubmodelsResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, discovery.StatusSuccess, out.SubmodelDescriptors["sub-1"].Status)

	// The bare semanticId form normalises to a GlobalReference key and
	// matches descriptors carrying one.
	res, body = s.post(t, "/discover/shell/submodels/semanticId", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-1",
		"semanticId":     passportSemanticID,
		"governance":     []map[string]any{{"odrl:permission": "use"}},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	out = discovery.SubmodelsResult{}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, discovery.StatusSuccess, out.SubmodelDescriptors["sub-1"].Status)

	// Without semanticIds nor semanticId the request is rejected.
	res, body = s.post(t, "/discover/shell/submodels/semanticId", map[string]any{
		"counterPartyId": testBPN,
		"id":             "shell-1",
	})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, string(body), "semanticIds or semanticId is required")
}

func TestDPPEndpoints(t *testing.T) {
	s := newTestService(t)
	payload := map[string]any{"passport": "ok"}
	submodelID := uuid.NewString()
	href := s.registry.SetData("passport", payload)
	s.registry.AddShell(testutil.Shell("shell-1",
		testutil.Submodel(submodelID, passportSemanticID, "asset-pass", "https://partner.example/dsp", href),
	))

	res, body := s.post(t, "/addons/ecopass/discover/", map[string]any{
		"id":         "CX:MPI-7:SN-42",
		"semanticId": passportSemanticID,
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	var accepted struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, json.Unmarshal(body, &accepted))
	require.NotEmpty(t, accepted.TaskID)

	statusURL := s.URL + "/addons/ecopass/discover/" + accepted.TaskID + "/status"
	var final dpp.Snapshot
	require.Eventually(t, func() bool {
		res, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(res.Body).Decode(&final); err != nil {
			return false
		}
		return final.Status != dpp.StatusInProgress
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, dpp.StatusCompleted, final.Status)
	require.Equal(t, payload, final.Data)

	// Requests without the mandatory fields are rejected up front.
	res, _ = s.post(t, "/addons/ecopass/discover/", map[string]any{"id": "CX:MPI-7:SN-42"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	// Unknown task ids are a 404.
	res2, err := http.Get(s.URL + "/addons/ecopass/discover/no-such-task/status")
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusNotFound, res2.StatusCode)
}
