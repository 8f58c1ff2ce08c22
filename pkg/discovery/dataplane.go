package discovery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// dataplane issues the twin registry and submodel requests against a
// negotiated dataplane. The access token travels in the Authorization header
// verbatim; the dataplane hands out tokens that already carry their scheme.
type dataplane struct {
	http *http.Client
}

type lookupResponse struct {
	Result         []string `json:"result"`
	PagingMetadata struct {
		Cursor string `json:"cursor"`
	} `json:"paging_metadata"`
}

// lookupShells posts the asset-link query to the registry and returns the
// matching shell ids plus the upstream cursor ("" when exhausted).
func (d *dataplane) lookupShells(ctx context.Context, edr connector.EDR, querySpec types.QuerySpec, limit *int, cursor string) ([]string, string, error) {
	endpoint := strings.TrimSuffix(edr.DataplaneURL, "/") + "/lookup/shellsByAssetLink"
	params := url.Values{}
	if limit != nil {
		params.Set("limit", fmt.Sprintf("%d", *limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	body, err := json.Marshal(querySpec)
	if err != nil {
		return nil, "", types.WrapFailure(types.FailureInternal, err, "encoding query spec")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", types.WrapFailure(types.FailureInternal, err, "building lookup request")
	}
	req.Header.Set("Content-Type", "application/json")

	var lookup lookupResponse
	if err := d.do(req, edr.AccessToken, &lookup); err != nil {
		return nil, "", err
	}
	return lookup.Result, lookup.PagingMetadata.Cursor, nil
}

// shellDescriptor fetches one shell descriptor by id.
func (d *dataplane) shellDescriptor(ctx context.Context, edr connector.EDR, shellID string) (types.ShellDescriptor, error) {
	endpoint := strings.TrimSuffix(edr.DataplaneURL, "/") + "/shell-descriptors/" + encodeID(shellID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.WrapFailure(types.FailureInternal, err, "building shell descriptor request")
	}
	var shell types.ShellDescriptor
	if err := d.do(req, edr.AccessToken, &shell); err != nil {
		return nil, err
	}
	return shell, nil
}

// submodelDescriptor fetches one submodel descriptor of a shell.
func (d *dataplane) submodelDescriptor(ctx context.Context, edr connector.EDR, shellID, submodelID string) (types.SubmodelDescriptor, error) {
	endpoint := strings.TrimSuffix(edr.DataplaneURL, "/") +
		"/shell-descriptors/" + encodeID(shellID) +
		"/submodel-descriptors/" + encodeID(submodelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.WrapFailure(types.FailureInternal, err, "building submodel descriptor request")
	}
	var descriptor types.SubmodelDescriptor
	if err := d.do(req, edr.AccessToken, &descriptor); err != nil {
		return nil, err
	}
	return descriptor, nil
}

// fetchSubmodel retrieves a submodel payload from its href. An empty body on
// 200 is reported distinctly so callers can run the purge-and-retry cycle.
func (d *dataplane) fetchSubmodel(ctx context.Context, token, href string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, types.WrapFailure(types.FailureInternal, err, "building submodel request")
	}
	req.Header.Set("Authorization", token)

	res, err := d.http.Do(req)
	if err != nil {
		f := types.WrapFailure(types.FailureUnavailable, err, "submodel fetch failed: %s", err)
		f.Endpoint = href
		return nil, f
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, failureFromResponse(res, href)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, types.WrapFailure(types.FailureExternalAPI, err, "reading submodel payload")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyPayload
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, types.WrapFailure(types.FailureExternalAPI, err, "decoding submodel payload")
	}
	return payload, nil
}

// errEmptyPayload marks a 200 response with no body. It triggers exactly one
// purge-sleep-renegotiate-refetch cycle.
var errEmptyPayload = types.NewFailure(types.FailureExternalAPI, "submodel endpoint returned no data")

func (d *dataplane) do(req *http.Request, token string, out any) error {
	req.Header.Set("Authorization", token)
	res, err := d.http.Do(req)
	if err != nil {
		f := types.WrapFailure(types.FailureUnavailable, err, "dataplane unreachable: %s", err)
		f.Endpoint = req.URL.String()
		return f
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return failureFromResponse(res, req.URL.String())
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		f := types.WrapFailure(types.FailureExternalAPI, err, "decoding dataplane response")
		f.Endpoint = req.URL.String()
		return f
	}
	return nil
}

func failureFromResponse(res *http.Response, endpoint string) error {
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	code := types.FailureExternalAPI
	if res.StatusCode == http.StatusNotFound {
		code = types.FailureNotFound
	}
	f := types.NewFailure(code, "dataplane responded %d: %s", res.StatusCode, string(snippet))
	f.Endpoint = endpoint
	return f
}

// encodeID encodes an AAS identifier for use in a URL path. Registries expect
// standard base64 over the UTF-8 bytes of the id.
func encodeID(id string) string {
	return base64.StdEncoding.EncodeToString([]byte(id))
}
