package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// FilesystemStore keeps blobs at {root}/{sha256(semanticId)}/{uuid}.json.
type FilesystemStore struct {
	root string
}

var (
	_ Store        = (*FilesystemStore)(nil)
	_ LegacyReader = (*FilesystemStore)(nil)
)

// NewFilesystemStore creates the store rooted at the given directory. The
// root must be writable; construction probes it and fails otherwise.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, types.WrapFailure(types.FailureInternal, err, "creating blob store root %s", root)
	}
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, types.WrapFailure(types.FailurePermissionDenied, err, "blob store root %s is not writable", root)
	}
	probe.Close()
	os.Remove(probe.Name())
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) Read(ctx context.Context, semanticID string, submodelID uuid.UUID) (any, error) {
	return s.ReadPath(ctx, LegacyPath(semanticID, submodelID))
}

func (s *FilesystemStore) Write(_ context.Context, semanticID string, submodelID uuid.UUID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.WrapFailure(types.FailureInvalidArgument, err, "encoding payload")
	}
	path := filepath.Join(s.root, SemanticHash(semanticID), submodelID.String()+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.WrapFailure(types.FailureInternal, err, "creating blob directory")
	}
	// Write via temp file and rename so readers never observe a torn blob.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return types.WrapFailure(types.FailureInternal, err, "creating temp blob")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return types.WrapFailure(types.FailureInternal, err, "writing blob")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return types.WrapFailure(types.FailureInternal, err, "closing blob")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return types.WrapFailure(types.FailureInternal, err, "publishing blob")
	}
	return nil
}

func (s *FilesystemStore) Delete(_ context.Context, semanticID string, submodelID uuid.UUID) error {
	path := filepath.Join(s.root, SemanticHash(semanticID), submodelID.String()+".json")
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.WrapFailure(types.FailureInternal, err, "deleting blob")
	}
	return nil
}

func (s *FilesystemStore) Exists(_ context.Context, semanticID string, submodelID uuid.UUID) (bool, error) {
	path := filepath.Join(s.root, SemanticHash(semanticID), submodelID.String()+".json")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, types.WrapFailure(types.FailureInternal, err, "checking blob")
	}
	return true, nil
}

// ReadPath reads a blob by its legacy path relative to the root.
func (s *FilesystemStore) ReadPath(_ context.Context, path string) (any, error) {
	hash, id, err := parseLegacyPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, hash, id.String()+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.WrapFailure(types.FailureNotFound, err, "blob %s not found", path)
		}
		return nil, types.WrapFailure(types.FailureInternal, err, "reading blob")
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, types.WrapFailure(types.FailureInternal, err, "decoding blob")
	}
	return payload, nil
}
