package blobstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/blobstore"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/testutil"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

const batterySemanticID = "urn:samm:io.catenax.battery_pass:6.0.0#BatteryPass"

func TestSemanticHash(t *testing.T) {
	hash := blobstore.SemanticHash(batterySemanticID)
	require.Len(t, hash, 64)
	require.Equal(t, hash, blobstore.SemanticHash(batterySemanticID))
	require.NotEqual(t, hash, blobstore.SemanticHash("urn:samm:other:1.0.0#Other"))
}

func TestLegacyPath(t *testing.T) {
	id := uuid.MustParse("3f8a1b2c-0d4e-4f60-9a71-82b3c4d5e6f7")
	path := blobstore.LegacyPath(batterySemanticID, id)
	require.Equal(t, blobstore.SemanticHash(batterySemanticID)+"/3f8a1b2c-0d4e-4f60-9a71-82b3c4d5e6f7.json", path)
}

func TestFilesystemStore(t *testing.T) {
	ctx := context.Background()
	store := testutil.Must(blobstore.NewFilesystemStore(t.TempDir()))(t)
	id := uuid.New()
	payload := map[string]any{"state": "valid", "cycles": float64(12)}

	exists := testutil.Must(store.Exists(ctx, batterySemanticID, id))(t)
	require.False(t, exists)

	require.NoError(t, store.Write(ctx, batterySemanticID, id, payload))
	exists = testutil.Must(store.Exists(ctx, batterySemanticID, id))(t)
	require.True(t, exists)

	read := testutil.Must(store.Read(ctx, batterySemanticID, id))(t)
	require.Equal(t, payload, read)

	// The legacy path addresses the same blob.
	legacy := testutil.Must(store.ReadPath(ctx, blobstore.LegacyPath(batterySemanticID, id)))(t)
	require.Equal(t, payload, legacy)

	require.NoError(t, store.Delete(ctx, batterySemanticID, id))
	exists = testutil.Must(store.Exists(ctx, batterySemanticID, id))(t)
	require.False(t, exists)

	// Deleting an absent blob is not an error.
	require.NoError(t, store.Delete(ctx, batterySemanticID, id))

	_, err := store.Read(ctx, batterySemanticID, id)
	require.Error(t, err)
	require.Equal(t, types.FailureNotFound, types.CodeOf(err))
}

func TestFilesystemStoreReadPathValidation(t *testing.T) {
	ctx := context.Background()
	store := testutil.Must(blobstore.NewFilesystemStore(t.TempDir()))(t)

	for _, path := range []string{
		"",
		"not-a-path",
		"shorthash/3f8a1b2c-0d4e-4f60-9a71-82b3c4d5e6f7.json",
		blobstore.SemanticHash(batterySemanticID) + "/not-a-uuid.json",
	} {
		_, err := store.ReadPath(ctx, path)
		require.Error(t, err, "path %q", path)
		require.Equal(t, types.FailureInvalidArgument, types.CodeOf(err))
	}
}
