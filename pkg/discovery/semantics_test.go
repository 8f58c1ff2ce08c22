package discovery_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/discovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

const passportSemanticID = "urn:samm:io.catenax.generic.digital_product_passport:5.0.0#DigitalProductPassport"

func TestExtractSemanticID(t *testing.T) {
	t.Run("keys shape", func(t *testing.T) {
		descriptor := types.SubmodelDescriptor{
			"semanticId": map[string]any{
				"type": "ExternalReference",
				"keys": []any{
					map[string]any{"type": "GlobalReference", "value": passportSemanticID},
					map[string]any{"type": "Submodel", "value": "secondary"},
				},
			},
		}
		value, keys := mustSemanticID(t, descriptor)
		require.Equal(t, passportSemanticID, value)
		require.Equal(t, []types.SemanticIDKey{
			{Type: "GlobalReference", Value: passportSemanticID},
			{Type: "Submodel", Value: "secondary"},
		}, keys)
	})

	t.Run("value shape", func(t *testing.T) {
		descriptor := types.SubmodelDescriptor{
			"semanticId": map[string]any{"type": "GlobalReference", "value": passportSemanticID},
		}
		value, keys := mustSemanticID(t, descriptor)
		require.Equal(t, passportSemanticID, value)
		require.Equal(t, []types.SemanticIDKey{{Type: "GlobalReference", Value: passportSemanticID}}, keys)
	})

	t.Run("raw string shape", func(t *testing.T) {
		descriptor := types.SubmodelDescriptor{"semanticId": passportSemanticID}
		value, keys := mustSemanticID(t, descriptor)
		require.Equal(t, passportSemanticID, value)
		require.Equal(t, []types.SemanticIDKey{{Value: passportSemanticID}}, keys)
	})

	t.Run("missing or malformed", func(t *testing.T) {
		for _, descriptor := range []types.SubmodelDescriptor{
			{},
			{"semanticId": ""},
			{"semanticId": map[string]any{"keys": []any{}}},
			{"semanticId": 42},
		} {
			_, _, err := discovery.ExtractSemanticID(descriptor)
			require.Error(t, err)
			require.Equal(t, types.FailureInvalidArgument, types.CodeOf(err))
		}
	})
}

func mustSemanticID(t *testing.T, descriptor types.SubmodelDescriptor) (string, []types.SemanticIDKey) {
	value, keys, err := discovery.ExtractSemanticID(descriptor)
	require.NoError(t, err)
	return value, keys
}

func TestSemanticIDKeysEncoding(t *testing.T) {
	raw := map[string]any{
		"type": "ExternalReference",
		"keys": []any{map[string]any{"type": "GlobalReference", "value": passportSemanticID}},
	}
	encoded := discovery.SemanticIDKeys(types.SubmodelDescriptor{"semanticId": raw})
	require.NotEmpty(t, encoded)

	decoded := map[string]any{}
	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "ExternalReference", decoded["type"])

	require.Empty(t, discovery.SemanticIDKeys(types.SubmodelDescriptor{}))
}

func TestMatchesSemanticIDs(t *testing.T) {
	keys := []types.SemanticIDKey{
		{Type: "GlobalReference", Value: passportSemanticID},
		{Type: "Submodel", Value: "secondary"},
	}

	require.True(t, discovery.MatchesSemanticIDs(keys, []types.SemanticIDKey{
		{Type: "GlobalReference", Value: passportSemanticID},
	}))
	require.True(t, discovery.MatchesSemanticIDs(keys, keys))
	require.False(t, discovery.MatchesSemanticIDs(keys, []types.SemanticIDKey{
		{Type: "GlobalReference", Value: "other"},
	}))
	// Type participates in matching.
	require.False(t, discovery.MatchesSemanticIDs(keys, []types.SemanticIDKey{
		{Type: "Submodel", Value: passportSemanticID},
	}))
	// An empty target never matches.
	require.False(t, discovery.MatchesSemanticIDs(keys, nil))
}

func TestExtractEndpointInfo(t *testing.T) {
	t.Run("full endpoint", func(t *testing.T) {
		descriptor := types.SubmodelDescriptor{
			"endpoints": []any{
				map[string]any{
					"interface": "HTTP",
					"protocolInformation": map[string]any{
						"href": "https://ignored.example/other",
					},
				},
				map[string]any{
					"interface": "SUBMODEL-3.0",
					"protocolInformation": map[string]any{
						"href":            "urn:uuid:https://dataplane.example/submodel",
						"subprotocolBody": "id=asset-1;dspEndpoint=https://partner.example/dsp",
					},
				},
			},
		}
		info, err := discovery.ExtractEndpointInfo(descriptor)
		require.NoError(t, err)
		require.Equal(t, "https://dataplane.example/submodel", info.Href)
		require.Equal(t, "asset-1", info.AssetID)
		require.Equal(t, "https://partner.example/dsp", info.ConnectorURL)
	})

	t.Run("whitespace tolerant subprotocol body", func(t *testing.T) {
		descriptor := types.SubmodelDescriptor{
			"endpoints": []any{
				map[string]any{
					"interface": "SUBMODEL-3.0",
					"protocolInformation": map[string]any{
						"href":            "https://dataplane.example/submodel",
						"subprotocolBody": " id = asset-1 ; dspEndpoint = https://partner.example/dsp ",
					},
				},
			},
		}
		info, err := discovery.ExtractEndpointInfo(descriptor)
		require.NoError(t, err)
		require.Equal(t, "asset-1", info.AssetID)
		require.Equal(t, "https://partner.example/dsp", info.ConnectorURL)
	})

	t.Run("no matching endpoint", func(t *testing.T) {
		_, err := discovery.ExtractEndpointInfo(types.SubmodelDescriptor{"endpoints": []any{}})
		require.Error(t, err)
		_, err = discovery.ExtractEndpointInfo(types.SubmodelDescriptor{})
		require.Error(t, err)
	})
}
