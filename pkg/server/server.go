// Package server exposes the discovery engine and the DPP workflow over
// HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/build"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/discovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dpp"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

var log = logging.Logger("server")

// ListenAndServe creates a discovery service HTTP server and starts it up.
func ListenAndServe(addr string, engine *discovery.Engine, workflow *dpp.Workflow) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewServer(engine, workflow),
	}
	log.Infof("Listening on %s", addr)
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewServer creates the discovery service HTTP handler.
func NewServer(engine *discovery.Engine, workflow *dpp.Workflow) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", GetRootHandler())
	mux.HandleFunc("POST /addons/ecopass/discover/", PostDPPDiscoverHandler(workflow))
	mux.HandleFunc("GET /addons/ecopass/discover/{taskId}/status", GetDPPStatusHandler(workflow))
	mux.HandleFunc("POST /discover/registries", PostRegistriesHandler(engine))
	mux.HandleFunc("POST /discover/shells", PostShellsHandler(engine))
	mux.HandleFunc("POST /discover/shell", PostShellHandler(engine))
	mux.HandleFunc("POST /discover/shell/submodels", PostSubmodelsHandler(engine))
	mux.HandleFunc("POST /discover/shell/submodel", PostSubmodelHandler(engine))
	mux.HandleFunc("POST /discover/shell/submodels/semanticId", PostSubmodelsBySemanticIDHandler(engine))
	return mux
}

// GetRootHandler displays version info when a GET request is sent to "/".
func GetRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "dtr-discovery-service %s\n", build.Version)
	}
}

// discoverRequest is the shared body shape of the /discover endpoints.
type discoverRequest struct {
	CounterPartyID types.BPN             `json:"counterPartyId"`
	ID             string                `json:"id"`
	SubmodelID     string                `json:"submodelId"`
	QuerySpec      types.QuerySpec       `json:"querySpec"`
	DTRPolicies    []types.Policy        `json:"dtrPolicies"`
	Governance     json.RawMessage       `json:"governance"`
	SemanticID     string                `json:"semanticId"`
	SemanticIDs    []types.SemanticIDKey `json:"semanticIds"`
	Limit          *int                  `json:"limit"`
	Cursor         string                `json:"cursor"`
}

// governanceMap decodes the governance field as a semantic-id map.
func (r *discoverRequest) governanceMap() (types.Governance, error) {
	if len(r.Governance) == 0 {
		return nil, nil
	}
	var governance types.Governance
	if err := json.Unmarshal(r.Governance, &governance); err != nil {
		return nil, types.WrapFailure(types.FailureInvalidArgument, err, "invalid governance")
	}
	return governance, nil
}

// governanceList decodes the governance field as a shared policy list.
func (r *discoverRequest) governanceList() ([]types.Policy, error) {
	if len(r.Governance) == 0 {
		return nil, nil
	}
	var policies []types.Policy
	if err := json.Unmarshal(r.Governance, &policies); err != nil {
		return nil, types.WrapFailure(types.FailureInvalidArgument, err, "invalid governance")
	}
	return policies, nil
}

// PostDPPDiscoverHandler accepts a DPP discovery and returns 202 with the
// task id; the workflow proceeds asynchronously.
func PostDPPDiscoverHandler(workflow *dpp.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dpp.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, types.WrapFailure(types.FailureInvalidArgument, err, "invalid request body"))
			return
		}
		if req.ID == "" || req.SemanticID == "" {
			writeError(w, types.NewFailure(types.FailureInvalidArgument, "id and semanticId are required"))
			return
		}

		snapshot := workflow.Start(req)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"taskId": snapshot.TaskID,
			"status": snapshot,
		})
	}
}

// GetDPPStatusHandler returns the task snapshot.
func GetDPPStatusHandler(workflow *dpp.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, ok := workflow.Tasks().Get(r.PathValue("taskId"))
		if !ok {
			writeError(w, types.NewFailure(types.FailureNotFound, "task %s not found", r.PathValue("taskId")))
			return
		}
		writeJSON(w, http.StatusOK, task.Snapshot())
	}
}

// PostRegistriesHandler returns the cached or freshly discovered DTRs of a
// business partner.
func PostRegistriesHandler(engine *discovery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, s := telemetry.StartSpan(r.Context(), "PostRegistriesHandler")
		defer s.End()

		req, ok := decodeDiscoverRequest(w, r)
		if !ok {
			return
		}
		dtrs, err := engine.GetDTRs(ctx, req.CounterPartyID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dtrs": dtrs})
	}
}

// PostShellsHandler runs the paginated multi-registry shell lookup.
func PostShellsHandler(engine *discovery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, s := telemetry.StartSpan(r.Context(), "PostShellsHandler")
		defer s.End()

		req, ok := decodeDiscoverRequest(w, r)
		if !ok {
			return
		}
		result, err := engine.DiscoverShells(ctx, req.CounterPartyID, req.QuerySpec, req.DTRPolicies, req.Limit, req.Cursor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// PostShellHandler fetches one shell descriptor by id.
func PostShellHandler(engine *discovery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, s := telemetry.StartSpan(r.Context(), "PostShellHandler")
		defer s.End()

		req, ok := decodeDiscoverRequest(w, r)
		if !ok {
			return
		}
		result, err := engine.DiscoverShell(ctx, req.CounterPartyID, req.ID, req.DTRPolicies)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// PostSubmodelsHandler runs the batch submodel discovery for a shell.
func PostSubmodelsHandler(engine *discovery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, s := telemetry.StartSpan(r.Context(), "PostSubmodelsHandler")
		defer s.End()

		req, ok := decodeDiscoverRequest(w, r)
		if !ok {
			return
		}
		governance, err := req.governanceMap()
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := engine.DiscoverSubmodels(ctx, req.CounterPartyID, req.ID, req.DTRPolicies, governance)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// PostSubmodelHandler fetches a single submodel.
func PostSubmodelHandler(engine *discovery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, s := telemetry.StartSpan(r.Context(), "PostSubmodelHandler")
		defer s.End()

		req, ok := decodeDiscoverRequest(w, r)
		if !ok {
			return
		}
		if req.SubmodelID == "" {
			writeError(w, types.NewFailure(types.FailureInvalidArgument, "submodelId is required"))
			return
		}
		governance, err := req.governanceMap()
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := engine.DiscoverSubmodel(ctx, req.CounterPartyID, req.ID, req.DTRPolicies, governance, req.SubmodelID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// PostSubmodelsBySemanticIDHandler runs the semantic-id narrowed batch
// discovery.
func PostSubmodelsBySemanticIDHandler(engine *discovery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, s := telemetry.StartSpan(r.Context(), "PostSubmodelsBySemanticIDHandler")
		defer s.End()

		req, ok := decodeDiscoverRequest(w, r)
		if !ok {
			return
		}
		semanticIDs := req.SemanticIDs
		if len(semanticIDs) == 0 && req.SemanticID != "" {
			semanticIDs = []types.SemanticIDKey{{Type: discovery.GlobalReference, Value: req.SemanticID}}
		}
		if len(semanticIDs) == 0 {
			writeError(w, types.NewFailure(types.FailureInvalidArgument, "semanticIds or semanticId is required"))
			return
		}
		governance, err := req.governanceList()
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := engine.DiscoverSubmodelBySemanticIDs(ctx, req.CounterPartyID, req.ID, req.DTRPolicies, governance, semanticIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func decodeDiscoverRequest(w http.ResponseWriter, r *http.Request) (*discoverRequest, bool) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.WrapFailure(types.FailureInvalidArgument, err, "invalid request body"))
		return nil, false
	}
	if req.CounterPartyID == "" {
		writeError(w, types.NewFailure(types.FailureInvalidArgument, "counterPartyId is required"))
		return nil, false
	}
	return &req, true
}

type errorBody struct {
	Error    string `json:"error"`
	Status   int    `json:"status"`
	Endpoint string `json:"endpoint,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := types.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Status: status}
	var f *types.Failure
	if errors.As(err, &f) {
		body.Endpoint = f.Endpoint
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %s", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("writing response: %s", err)
	}
}
