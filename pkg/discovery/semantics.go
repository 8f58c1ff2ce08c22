package discovery

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// submodelInterface is the endpoint interface carrying the dataspace
// subprotocol metadata.
const submodelInterface = "SUBMODEL-3.0"

// GlobalReference is the key type a standalone semantic id value normalises
// to.
const GlobalReference = "GlobalReference"

// ExtractSemanticID reads the semanticId of a submodel descriptor. Three
// shapes occur in the wild: {keys: [{type, value}, ...]}, {value: ...} and a
// raw string. The canonical value is the first key's value.
func ExtractSemanticID(descriptor types.SubmodelDescriptor) (string, []types.SemanticIDKey, error) {
	raw, ok := descriptor["semanticId"]
	if !ok {
		return "", nil, types.NewFailure(types.FailureInvalidArgument, "submodel descriptor has no semanticId")
	}

	switch v := raw.(type) {
	case string:
		if v == "" {
			break
		}
		return v, []types.SemanticIDKey{{Value: v}}, nil
	case map[string]any:
		if keysRaw, ok := v["keys"].([]any); ok {
			keys := make([]types.SemanticIDKey, 0, len(keysRaw))
			for _, entry := range keysRaw {
				key, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				t, _ := key["type"].(string)
				value, _ := key["value"].(string)
				if value != "" {
					keys = append(keys, types.SemanticIDKey{Type: t, Value: value})
				}
			}
			if len(keys) > 0 {
				return keys[0].Value, keys, nil
			}
			break
		}
		if value, ok := v["value"].(string); ok && value != "" {
			t, _ := v["type"].(string)
			return value, []types.SemanticIDKey{{Type: t, Value: value}}, nil
		}
	}
	return "", nil, types.NewFailure(types.FailureInvalidArgument, "could not extract semantic id from submodel descriptor")
}

// SemanticIDKeys encodes the raw semanticId structure as base64 of its
// canonical JSON form. json.Marshal sorts map keys, which makes the encoding
// stable across descriptor sources.
func SemanticIDKeys(descriptor types.SubmodelDescriptor) string {
	raw, ok := descriptor["semanticId"]
	if !ok {
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// MatchesSemanticIDs reports whether every target key appears in the
// descriptor's key set. Matching is on (type, value) pairs.
func MatchesSemanticIDs(keys []types.SemanticIDKey, target []types.SemanticIDKey) bool {
	if len(target) == 0 {
		return false
	}
	set := make(map[types.SemanticIDKey]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	for _, t := range target {
		if !set[t] {
			return false
		}
	}
	return true
}

// EndpointInfo is the dataspace addressing extracted from a SUBMODEL-3.0
// endpoint of a submodel descriptor.
type EndpointInfo struct {
	Href         string
	AssetID      string
	ConnectorURL string
}

// ExtractEndpointInfo finds the SUBMODEL-3.0 endpoint and parses its href and
// subprotocolBody. The href may carry a urn:uuid: prefix which is stripped;
// the subprotocolBody has the form "k1=v1;k2=v2;..." and carries the asset id
// under "id" and the connector URL under "dspEndpoint".
func ExtractEndpointInfo(descriptor types.SubmodelDescriptor) (EndpointInfo, error) {
	endpoints, ok := descriptor["endpoints"].([]any)
	if !ok {
		return EndpointInfo{}, types.NewFailure(types.FailureInvalidArgument, "submodel descriptor has no endpoints")
	}

	for _, entry := range endpoints {
		endpoint, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if iface, _ := endpoint["interface"].(string); iface != submodelInterface {
			continue
		}
		protocolInfo, ok := endpoint["protocolInformation"].(map[string]any)
		if !ok {
			continue
		}

		info := EndpointInfo{}
		if href, ok := protocolInfo["href"].(string); ok {
			info.Href = strings.TrimPrefix(href, "urn:uuid:")
		}
		if body, ok := protocolInfo["subprotocolBody"].(string); ok {
			for _, pair := range strings.Split(body, ";") {
				k, v, found := strings.Cut(pair, "=")
				if !found {
					continue
				}
				switch strings.TrimSpace(k) {
				case "id":
					info.AssetID = strings.TrimSpace(v)
				case "dspEndpoint":
					info.ConnectorURL = strings.TrimSpace(v)
				}
			}
		}
		if info.Href == "" && info.AssetID == "" {
			continue
		}
		return info, nil
	}
	return EndpointInfo{}, types.NewFailure(types.FailureInvalidArgument, "no %s endpoint found in submodel descriptor", submodelInterface)
}
