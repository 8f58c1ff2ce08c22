package connector

import (
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Catalog is a DCAT catalog document returned by a connector. The structure
// is JSON-LD and varies with the connector's context, so it stays opaque.
type Catalog = map[string]any

// CatalogResult is the per-connector outcome of a parallel catalog fanout.
type CatalogResult struct {
	Catalog Catalog
	Err     error
}

const (
	dcatDatasetKey   = "dcat:dataset"
	odrlHasPolicyKey = "odrl:hasPolicy"
	jsonLDIDKey      = "@id"
	jsonLDTypeKey    = "@type"
)

// Datasets returns the datasets of a catalog. Connectors serialise a single
// dataset as an object rather than a one-element list; both forms are
// accepted.
func Datasets(catalog Catalog) []map[string]any {
	raw, ok := catalog[dcatDatasetKey]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []any:
		datasets := make([]map[string]any, 0, len(v))
		for _, entry := range v {
			if dataset, ok := entry.(map[string]any); ok {
				datasets = append(datasets, dataset)
			}
		}
		return datasets
	case map[string]any:
		return []map[string]any{v}
	}
	return nil
}

// DatasetID returns the asset id of a dataset.
func DatasetID(dataset map[string]any) string {
	id, _ := dataset[jsonLDIDKey].(string)
	return id
}

// CleanPolicies extracts the dataset's offered policies, stripping the @id
// and @type negotiation metadata. String-valued policies pass through.
func CleanPolicies(dataset map[string]any) []types.Policy {
	raw, ok := dataset[odrlHasPolicyKey]
	if !ok {
		return nil
	}
	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	default:
		entries = []any{v}
	}

	var policies []types.Policy
	for _, entry := range entries {
		switch policy := entry.(type) {
		case map[string]any:
			clean := make(map[string]any, len(policy))
			for k, v := range policy {
				if k == jsonLDIDKey || k == jsonLDTypeKey {
					continue
				}
				clean[k] = v
			}
			if len(clean) > 0 {
				policies = append(policies, clean)
			}
		case string:
			policies = append(policies, policy)
		}
	}
	return policies
}

// rawPolicies returns the dataset's policies with negotiation metadata
// intact; negotiation needs the offer @id.
func rawPolicies(dataset map[string]any) []map[string]any {
	raw, ok := dataset[odrlHasPolicyKey]
	if !ok {
		return nil
	}
	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	default:
		entries = []any{v}
	}
	var policies []map[string]any
	for _, entry := range entries {
		if policy, ok := entry.(map[string]any); ok {
			policies = append(policies, policy)
		}
	}
	return policies
}
