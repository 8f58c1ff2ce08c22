package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Auth types of the HTTP backend.
const (
	AuthBearer = "bearer"
	AuthAPIKey = "api-key"
)

// HTTPConfig configures the HTTP dispatcher backend.
type HTTPConfig struct {
	BaseURL     string
	APIPath     string
	AuthEnabled bool
	AuthType    string // bearer | api-key
	Token       string // supports ${NAME} environment substitution
	KeyName     string // header name for api-key auth
}

// HTTPStore dispatches blobs to a remote submodel service:
// {base}{apiPath}/{semanticId}/{submodelId}/submodel.
type HTTPStore struct {
	cfg  HTTPConfig
	http *http.Client

	// hashes maps sha256(semanticId) back to the semantic id so legacy path
	// reads can be served. Populated by every semantic-aware call.
	mu     sync.RWMutex
	hashes map[string]string
}

var (
	_ Store        = (*HTTPStore)(nil)
	_ LegacyReader = (*HTTPStore)(nil)
)

// HTTPOption configures the store.
type HTTPOption func(*HTTPStore)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		s.http = hc
	}
}

// NewHTTPStore creates the HTTP backend. The auth token supports ${NAME}
// environment variable substitution.
func NewHTTPStore(cfg HTTPConfig, opts ...HTTPOption) *HTTPStore {
	cfg.Token = substituteEnv(cfg.Token)
	s := &HTTPStore{
		cfg:    cfg,
		http:   telemetry.GetInstrumentedHTTPClient(),
		hashes: map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPStore) Read(ctx context.Context, semanticID string, submodelID uuid.UUID) (any, error) {
	s.remember(semanticID)
	res, err := s.request(ctx, http.MethodGet, semanticID, submodelID, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := mapStatus(res); err != nil {
		return nil, err
	}
	var payload any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, types.WrapFailure(types.FailureExternalAPI, err, "decoding blob response")
	}
	return payload, nil
}

func (s *HTTPStore) Write(ctx context.Context, semanticID string, submodelID uuid.UUID, payload any) error {
	s.remember(semanticID)
	data, err := json.Marshal(payload)
	if err != nil {
		return types.WrapFailure(types.FailureInvalidArgument, err, "encoding payload")
	}
	res, err := s.request(ctx, http.MethodPost, semanticID, submodelID, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return mapStatus(res)
}

func (s *HTTPStore) Delete(ctx context.Context, semanticID string, submodelID uuid.UUID) error {
	s.remember(semanticID)
	res, err := s.request(ctx, http.MethodDelete, semanticID, submodelID, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	return mapStatus(res)
}

func (s *HTTPStore) Exists(ctx context.Context, semanticID string, submodelID uuid.UUID) (bool, error) {
	s.remember(semanticID)
	res, err := s.request(ctx, http.MethodHead, semanticID, submodelID, nil)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := mapStatus(res); err != nil {
		return false, err
	}
	return true, nil
}

// ReadPath serves a legacy path read by resolving the sha256 back to the
// semantic id. Hashes are only known after a semantic-aware call touched the
// semantic id.
func (s *HTTPStore) ReadPath(ctx context.Context, path string) (any, error) {
	hash, id, err := parseLegacyPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	semanticID, ok := s.hashes[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewFailure(types.FailureNotFound, "unknown semantic id hash %s", hash)
	}
	return s.Read(ctx, semanticID, id)
}

func (s *HTTPStore) remember(semanticID string) {
	hash := SemanticHash(semanticID)
	s.mu.Lock()
	s.hashes[hash] = semanticID
	s.mu.Unlock()
}

func (s *HTTPStore) request(ctx context.Context, method, semanticID string, submodelID uuid.UUID, body io.Reader) (*http.Response, error) {
	endpoint := strings.TrimSuffix(s.cfg.BaseURL, "/") + s.cfg.APIPath +
		"/" + url.PathEscape(semanticID) +
		"/" + url.PathEscape(submodelID.String()) + "/submodel"

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, types.WrapFailure(types.FailureInternal, err, "building blob request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.AuthEnabled {
		switch s.cfg.AuthType {
		case AuthAPIKey:
			req.Header.Set(s.cfg.KeyName, s.cfg.Token)
		default:
			req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
		}
	}

	res, err := s.http.Do(req)
	if err != nil {
		f := types.WrapFailure(types.FailureUnavailable, err, "submodel service unreachable: %s", err)
		f.Endpoint = endpoint
		return nil, f
	}
	return res, nil
}

// mapStatus translates the dispatcher's status codes into the failure
// taxonomy. The body is left open for success codes only.
func mapStatus(res *http.Response) error {
	switch {
	case res.StatusCode == http.StatusOK,
		res.StatusCode == http.StatusCreated,
		res.StatusCode == http.StatusNoContent:
		return nil
	case res.StatusCode == http.StatusNotFound:
		return types.NewFailure(types.FailureNotFound, "blob not found")
	case res.StatusCode == http.StatusBadRequest,
		res.StatusCode == http.StatusUnprocessableEntity:
		return types.NewFailure(types.FailureInvalidArgument, "submodel service rejected the request: %s", readSnippet(res))
	case res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusForbidden:
		return types.NewFailure(types.FailurePermissionDenied, "submodel service denied access")
	case res.StatusCode >= http.StatusInternalServerError:
		return types.NewFailure(types.FailureUnavailable, "submodel service error %d: %s", res.StatusCode, readSnippet(res))
	}
	return types.NewFailure(types.FailureExternalAPI, "submodel service responded %d", res.StatusCode)
}

func readSnippet(res *http.Response) string {
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
	return string(snippet)
}

// substituteEnv expands a ${NAME} token reference from the environment.
func substituteEnv(token string) string {
	if strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}") {
		return os.Getenv(token[2 : len(token)-1])
	}
	return token
}
