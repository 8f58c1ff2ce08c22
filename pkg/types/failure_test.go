package types_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

func TestCodeOf(t *testing.T) {
	require.Equal(t, types.FailureNotFound, types.CodeOf(types.NewFailure(types.FailureNotFound, "nope")))
	require.Equal(t, types.FailureInternal, types.CodeOf(errors.New("untagged")))
	require.Equal(t, types.FailureTimeout, types.CodeOf(context.DeadlineExceeded))
	require.Equal(t, types.FailureTimeout, types.CodeOf(context.Canceled))

	// Wrapping preserves the code through errors.As.
	wrapped := fmt.Errorf("outer: %w", types.NewFailure(types.FailurePermissionDenied, "denied"))
	require.Equal(t, types.FailurePermissionDenied, types.CodeOf(wrapped))
}

func TestWrapFailureUnwraps(t *testing.T) {
	cause := errors.New("root cause")
	err := types.WrapFailure(types.FailureExternalAPI, cause, "upstream broke: %s", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "upstream broke: root cause", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusOK, types.HTTPStatus(nil))
	require.Equal(t, http.StatusBadRequest, types.HTTPStatus(types.NewFailure(types.FailureInvalidArgument, "bad")))
	require.Equal(t, http.StatusNotFound, types.HTTPStatus(types.NewFailure(types.FailureNotFound, "missing")))
	require.Equal(t, http.StatusForbidden, types.HTTPStatus(types.NewFailure(types.FailurePermissionDenied, "denied")))
	require.Equal(t, http.StatusGatewayTimeout, types.HTTPStatus(types.NewFailure(types.FailureTimeout, "slow")))
	require.Equal(t, http.StatusConflict, types.HTTPStatus(types.NewFailure(types.FailureAlreadyExists, "dup")))

	// Upstream message fragments steer the status for external failures.
	require.Equal(t, http.StatusForbidden,
		types.HTTPStatus(types.NewFailure(types.FailureExternalAPI, "No valid asset and policy allowed")))
	require.Equal(t, http.StatusNotFound,
		types.HTTPStatus(types.NewFailure(types.FailureUnavailable, "registry said: not found")))
	require.Equal(t, http.StatusInternalServerError,
		types.HTTPStatus(errors.New("something else")))
}

func TestDeepCopyJSONIsolation(t *testing.T) {
	original := map[string]any{"id": "shell-1", "nested": map[string]any{"k": "v"}}
	copied := types.DeepCopyJSON(original)
	copied["nested"].(map[string]any)["k"] = "mutated"
	require.Equal(t, "v", original["nested"].(map[string]any)["k"])
}
