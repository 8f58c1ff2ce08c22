package connector

import "time"

// EDR is an endpoint data reference: the dataplane address and bearer token
// obtained from a finalized contract negotiation. It is the only credential
// the engine ever holds for a partner's dataplane.
type EDR struct {
	DataplaneURL string    `json:"dataplaneUrl"`
	AccessToken  string    `json:"accessToken"`
	AssetID      string    `json:"assetId"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the token is past its expiry. A zero expiry means
// the issuer did not communicate one and the token is treated as live until a
// dataplane call proves otherwise.
func (e EDR) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
