package connector

import "context"

// ConnectionKey identifies one negotiated connection. Two requests against
// the same counterparty share a token exactly when their query and policy
// checksums match.
type ConnectionKey struct {
	CounterPartyID      string `json:"counterPartyId"`
	CounterPartyAddress string `json:"counterPartyAddress"`
	QueryChecksum       string `json:"queryChecksum"`
	PolicyChecksum      string `json:"policyChecksum"`
}

// EDRStore persists negotiated endpoint data references so tokens survive a
// restart. The in-memory connection cache sits in front of it.
type EDRStore interface {
	// Put stores the EDR under its connection key, replacing any prior value.
	Put(ctx context.Context, key ConnectionKey, edr EDR) error
	// Get retrieves a persisted EDR. Absent keys return [types.ErrKeyNotFound].
	Get(ctx context.Context, key ConnectionKey) (EDR, error)
	// Delete removes a persisted EDR. Deleting an absent key is not an error.
	Delete(ctx context.Context, key ConnectionKey) error
	// DeleteByAssetID removes every persisted EDR of a counterparty that was
	// negotiated for the given asset, returning the number of rows removed.
	DeleteByAssetID(ctx context.Context, counterPartyID, assetID string) (int, error)
}
