package types

import (
	"context"
	"encoding/json"
	"errors"
)

// BPN is a business partner number: the opaque identifier of an organisation
// within the dataspace federation.
type BPN = string

// Policy is an ODRL-style policy document gating access to an asset. It is
// either a JSON object (map) or a bare policy identifier string.
type Policy any

// DTR describes a Digital Twin Registry offering discovered in a partner's
// connector catalog. Entries are immutable after insertion and uniquely
// addressed by AssetID within a BPN.
type DTR struct {
	ConnectorURL string   `json:"connectorUrl"`
	AssetID      string   `json:"assetId"`
	Policies     []Policy `json:"policies"`
}

// ShellDescriptor is an opaque AAS shell descriptor. It carries at least an
// "id" and a "submodelDescriptors" array; no schema is imposed beyond that.
type ShellDescriptor = map[string]any

// SubmodelDescriptor is an opaque AAS submodel descriptor.
type SubmodelDescriptor = map[string]any

// ShellID returns the "id" of a shell descriptor, or "" when absent.
func ShellID(shell ShellDescriptor) string {
	id, _ := shell["id"].(string)
	return id
}

// SubmodelDescriptors returns the submodel descriptors embedded in a shell.
func SubmodelDescriptors(shell ShellDescriptor) []SubmodelDescriptor {
	raw, ok := shell["submodelDescriptors"].([]any)
	if !ok {
		return nil
	}
	descriptors := make([]SubmodelDescriptor, 0, len(raw))
	for _, entry := range raw {
		if descriptor, ok := entry.(map[string]any); ok {
			descriptors = append(descriptors, descriptor)
		}
	}
	return descriptors
}

// SemanticIDKey is a single (type, value) entry of a semanticId reference.
type SemanticIDKey struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// QuerySpec is a list of asset-link criteria for shell lookups.
type QuerySpec []QuerySpecEntry

// QuerySpecEntry is a single asset-link criterion, e.g.
// {"name": "manufacturerPartId", "value": "MPI-1"}.
type QuerySpecEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Governance maps semantic ids to the policies the caller accepts for
// consuming submodels of that semantic id.
type Governance map[string][]Policy

// ErrKeyNotFound means the key did not exist in the store or cache.
var ErrKeyNotFound = errors.New("key not found")

// Store describes a generic storage interface.
type Store[Key, Value any] interface {
	// Put adds (or replaces) an item in the store.
	Put(ctx context.Context, key Key, value Value) error
	// Get retrieves an existing item from the store. If the item does not
	// exist, it returns [ErrKeyNotFound].
	Get(ctx context.Context, key Key) (Value, error)
	// Delete removes an item from the store. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key Key) error
}

// DeepCopyJSON copies an arbitrary JSON-shaped value through its encoded
// form. Cache reads return deep copies so callers can never mutate shared
// state.
func DeepCopyJSON[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
