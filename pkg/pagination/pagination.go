// Package pagination implements the opaque cursor protocol used by shell
// discovery. A cursor encodes the per-registry paging position of every DTR
// that took part in a query, so a follow-up request can resume each upstream
// exactly where it stopped.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// LimitMismatchToken is the machine-readable marker appended to the error a
// caller receives when resuming a cursor with a different limit.
const LimitMismatchToken = "LIMIT_MISMATCH"

// DTRState is the paging position of one DTR, keyed by its asset id. A DTR is
// exhausted when its upstream returned no next cursor.
type DTRState struct {
	AssetID   string `json:"assetId"`
	Cursor    string `json:"cursor,omitempty"`
	Exhausted bool   `json:"exhausted,omitempty"`
}

// PageState is the full paging position of a multi-DTR query.
type PageState struct {
	DTRStates  map[string]DTRState `json:"dtrStates"`
	PageNumber int                 `json:"pageNumber"`
	Limit      *int                `json:"limit,omitempty"`
	Previous   *PageState          `json:"previous,omitempty"`
}

// EncodePageToken serialises a page state into an opaque client cursor.
func EncodePageToken(state PageState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encoding page token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodePageToken is the inverse of EncodePageToken.
func DecodePageToken(token string) (PageState, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return PageState{}, types.WrapFailure(types.FailureInvalidArgument, err, "invalid pagination cursor")
	}
	var state PageState
	if err := json.Unmarshal(data, &state); err != nil {
		return PageState{}, types.WrapFailure(types.FailureInvalidArgument, err, "invalid pagination cursor")
	}
	if state.DTRStates == nil {
		state.DTRStates = map[string]DTRState{}
	}
	return state, nil
}

// DistributeLimit divides the total shell budget across the active DTRs
// using ceiling division. A nil limit means unbounded and stays nil.
func DistributeLimit(totalLimit *int, activeDTRs int) *int {
	if totalLimit == nil {
		return nil
	}
	if activeDTRs < 1 {
		activeDTRs = 1
	}
	perDTR := (*totalLimit + activeDTRs - 1) / activeDTRs
	return &perDTR
}

// IsCursorCompatible reports whether a cursor may be resumed with the
// requested limit. Cursors are bound to the limit they were created with.
func IsCursorCompatible(state PageState, requestedLimit *int) bool {
	if state.Limit == nil && requestedLimit == nil {
		return true
	}
	if state.Limit == nil || requestedLimit == nil {
		return false
	}
	return *state.Limit == *requestedLimit
}

// LimitMismatchError builds the client-facing error for an incompatible
// cursor, ending with the LIMIT_MISMATCH machine token on its own line.
func LimitMismatchError(state PageState, requestedLimit *int) error {
	return types.NewFailure(types.FailureInvalidArgument,
		"Cursor was created with limit %s but request has limit %s. Please start pagination from the beginning.\n%s",
		formatLimit(state.Limit), formatLimit(requestedLimit), LimitMismatchToken)
}

// HasMoreData reports whether at least one DTR still has pages to serve.
func HasMoreData(states map[string]DTRState) bool {
	for _, s := range states {
		if !s.Exhausted {
			return true
		}
	}
	return false
}

func formatLimit(limit *int) string {
	if limit == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *limit)
}
