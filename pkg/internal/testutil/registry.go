package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// RegistryServer is an in-memory twin registry dataplane. It serves the
// shell lookup, descriptor and submodel data endpoints the engine consumes,
// with offset-based upstream pagination.
type RegistryServer struct {
	*httptest.Server

	mu        sync.Mutex
	order     []string
	shells    map[string]types.ShellDescriptor
	data      map[string]any
	dataCalls map[string]int
	emptyOnce map[string]int

	// Token, when set, is the exact Authorization header value required.
	Token string
}

// NewRegistryServer starts a registry dataplane that shuts down with the
// test.
func NewRegistryServer(t *testing.T) *RegistryServer {
	s := &RegistryServer{
		shells:    map[string]types.ShellDescriptor{},
		data:      map[string]any{},
		dataCalls: map[string]int{},
		emptyOnce: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /lookup/shellsByAssetLink", s.handleLookup)
	mux.HandleFunc("GET /shell-descriptors/{id}", s.handleShell)
	mux.HandleFunc("GET /shell-descriptors/{id}/submodel-descriptors/{submodelId}", s.handleSubmodel)
	mux.HandleFunc("GET /data/{key}", s.handleData)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddShell registers a shell; lookups return ids in insertion order.
func (s *RegistryServer) AddShell(shell types.ShellDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.ShellID(shell)
	if _, exists := s.shells[id]; !exists {
		s.order = append(s.order, id)
	}
	s.shells[id] = shell
}

// SetData stores a submodel payload and returns its href.
func (s *RegistryServer) SetData(key string, payload any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = payload
	return s.URL + "/data/" + key
}

// ServeEmptyOnce makes the next read of the key return an empty 200 body.
func (s *RegistryServer) ServeEmptyOnce(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyOnce[key]++
}

// DataCalls returns how often the key's payload was requested.
func (s *RegistryServer) DataCalls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataCalls[key]
}

func (s *RegistryServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.Token != "" && r.Header.Get("Authorization") != s.Token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *RegistryServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := 0
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}
	if offset > len(s.order) {
		offset = len(s.order)
	}
	end := len(s.order)
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, _ := strconv.Atoi(limitParam)
		if offset+limit < end {
			end = offset + limit
		}
	}

	body := map[string]any{"result": s.order[offset:end]}
	metadata := map[string]any{}
	if end < len(s.order) {
		metadata["cursor"] = fmt.Sprintf("%d", end)
	}
	body["paging_metadata"] = metadata
	writeBody(w, body)
}

func (s *RegistryServer) handleShell(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	id, err := decodeID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	shell, ok := s.shells[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "shell not found", http.StatusNotFound)
		return
	}
	writeBody(w, shell)
}

func (s *RegistryServer) handleSubmodel(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	id, err := decodeID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	submodelID, err := decodeID(r.PathValue("submodelId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	shell, ok := s.shells[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "shell not found", http.StatusNotFound)
		return
	}
	for _, descriptor := range types.SubmodelDescriptors(shell) {
		if descID, _ := descriptor["id"].(string); descID == submodelID {
			writeBody(w, descriptor)
			return
		}
	}
	http.Error(w, "submodel not found", http.StatusNotFound)
}

func (s *RegistryServer) handleData(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	key := r.PathValue("key")

	s.mu.Lock()
	s.dataCalls[key]++
	payload, ok := s.data[key]
	empty := s.emptyOnce[key] > 0
	if empty {
		s.emptyOnce[key]--
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "data not found", http.StatusNotFound)
		return
	}
	if empty {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeBody(w, payload)
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeID(encoded string) (string, error) {
	id, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 id: %w", err)
	}
	return string(id), nil
}
