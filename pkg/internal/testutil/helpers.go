package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Must takes return values from a function and returns the non-error one. If
// the error value is non-nil then it fails the test
func Must[T any](val T, err error) func(*testing.T) T {
	return func(t *testing.T) T {
		require.NoError(t, err)
		return val
	}
}

// Must2 takes return values from a 3 return function and returns the non-error ones. If
// the error value is non-nil then it fails the test.
func Must2[T, U any](val1 T, val2 U, err error) func(*testing.T) (T, U) {
	return func(t *testing.T) (T, U) {
		require.NoError(t, err)
		return val1, val2
	}
}

// Shell builds a shell descriptor with the given id and submodel descriptors.
func Shell(id string, submodels ...types.SubmodelDescriptor) types.ShellDescriptor {
	descriptors := make([]any, 0, len(submodels))
	for _, sm := range submodels {
		descriptors = append(descriptors, map[string]any(sm))
	}
	return types.ShellDescriptor{
		"id":                  id,
		"idShort":             "shell-" + id,
		"submodelDescriptors": descriptors,
	}
}

// Submodel builds a submodel descriptor with a keys-shaped semanticId and a
// SUBMODEL-3.0 endpoint addressing the given asset.
func Submodel(id, semanticID, assetID, dspEndpoint, href string) types.SubmodelDescriptor {
	return types.SubmodelDescriptor{
		"id": id,
		"semanticId": map[string]any{
			"type": "ExternalReference",
			"keys": []any{
				map[string]any{"type": "GlobalReference", "value": semanticID},
			},
		},
		"endpoints": []any{
			map[string]any{
				"interface": "SUBMODEL-3.0",
				"protocolInformation": map[string]any{
					"href":            href,
					"subprotocol":     "DSP",
					"subprotocolBody": "id=" + assetID + ";dspEndpoint=" + dspEndpoint,
				},
			},
		},
	}
}

// DTRCatalog builds a catalog carrying a single registry dataset, typed with
// the @id form of dct:type and offering one policy.
func DTRCatalog(assetID string, policy map[string]any) connector.Catalog {
	offer := map[string]any{"@id": "offer-" + assetID, "@type": "odrl:Offer"}
	for k, v := range policy {
		offer[k] = v
	}
	return connector.Catalog{
		"@type": "dcat:Catalog",
		"dcat:dataset": map[string]any{
			"@id":            assetID,
			"dct:type":       map[string]any{"@id": "https://w3id.org/catenax/taxonomy#DigitalTwinRegistry"},
			"odrl:hasPolicy": offer,
		},
	}
}
