package connector

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/sha3"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// EDCAssetIDKey is the property a connector catalog query filters on to
// address a single asset.
const EDCAssetIDKey = "https://w3id.org/edc/v0.0.1/ns/id"

// FilterExpression is a single criterion of a connector catalog query.
type FilterExpression struct {
	OperandLeft  string `json:"operandLeft"`
	Operator     string `json:"operator"`
	OperandRight any    `json:"operandRight"`
}

// NewFilterExpression builds a one-criterion filter list.
func NewFilterExpression(key, operator string, value any) []FilterExpression {
	return []FilterExpression{{OperandLeft: key, Operator: operator, OperandRight: value}}
}

// AssetFilter builds the filter expression addressing a single asset by id.
func AssetFilter(assetID string) []FilterExpression {
	return NewFilterExpression(EDCAssetIDKey, "=", assetID)
}

// QueryChecksum is the SHA3-256 checksum of the canonicalised filter
// expression. Together with the policy checksum it keys the connection cache.
func QueryChecksum(filter []FilterExpression) string {
	return checksum(filter)
}

// PolicyChecksum is the SHA3-256 checksum of the canonicalised policy list.
func PolicyChecksum(policies []types.Policy) string {
	return checksum(policies)
}

func checksum(v any) string {
	// json.Marshal sorts map keys, which makes the encoding canonical for the
	// JSON-shaped values used here.
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte{}
	}
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
