// Package blobstore stores submodel payloads under a (semantic id, submodel
// UUID) identity. Three backends exist: a local filesystem layout, a remote
// HTTP dispatcher, and S3. A legacy path form {sha256(semanticId)}/{uuid}.json
// is supported for interoperability with the filesystem layout.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Store is the uniform submodel blob contract.
type Store interface {
	// Read returns the stored payload.
	Read(ctx context.Context, semanticID string, submodelID uuid.UUID) (any, error)
	// Write stores (or replaces) a payload.
	Write(ctx context.Context, semanticID string, submodelID uuid.UUID, payload any) error
	// Delete removes a payload. Deleting an absent blob is not an error.
	Delete(ctx context.Context, semanticID string, submodelID uuid.UUID) error
	// Exists reports whether a payload is stored.
	Exists(ctx context.Context, semanticID string, submodelID uuid.UUID) (bool, error)
}

// LegacyReader reads blobs addressed by the legacy {sha256}/{uuid}.json path.
type LegacyReader interface {
	ReadPath(ctx context.Context, path string) (any, error)
}

// SemanticHash is the hex sha256 of a semantic id, the directory component
// of the legacy path layout.
func SemanticHash(semanticID string) string {
	sum := sha256.Sum256([]byte(semanticID))
	return hex.EncodeToString(sum[:])
}

// LegacyPath builds the legacy path for an identity.
func LegacyPath(semanticID string, submodelID uuid.UUID) string {
	return SemanticHash(semanticID) + "/" + submodelID.String() + ".json"
}

// parseLegacyPath splits {sha256}/{uuid}.json into its components.
func parseLegacyPath(path string) (string, uuid.UUID, error) {
	trimmed := strings.TrimSuffix(path, ".json")
	hash, idPart, found := strings.Cut(trimmed, "/")
	if !found || len(hash) != 64 {
		return "", uuid.UUID{}, types.NewFailure(types.FailureInvalidArgument, "invalid blob path %q", path)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return "", uuid.UUID{}, types.WrapFailure(types.FailureInvalidArgument, err, "invalid blob path %q", path)
	}
	return hash, id, nil
}
