package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/connector"
)

const edrKeyPrefix = "edr:"

// scanBatch is the COUNT hint for SCAN during asset-id purges.
const scanBatch = 100

var _ connector.EDRStore = (*EDRStore)(nil)

// EDRStore persists negotiated endpoint data references in redis, keyed by
// connection. Rows expire with the token so redis never serves a token the
// dataplane would reject.
type EDRStore struct {
	store  *RedisStore[connector.ConnectionKey, connector.EDR]
	client RedisClient
}

// NewEDRStore returns an EDR store using the given redis client.
func NewEDRStore(client RedisClient) *EDRStore {
	return &EDRStore{
		store:  NewRedisStore(edrFromRedis, edrToRedis, edrKeyString, client),
		client: client,
	}
}

func (s *EDRStore) Put(ctx context.Context, key connector.ConnectionKey, edr connector.EDR) error {
	ttl := time.Duration(0)
	if !edr.ExpiresAt.IsZero() {
		ttl = time.Until(edr.ExpiresAt)
		if ttl <= 0 {
			// Already expired, nothing worth persisting.
			return nil
		}
	}
	return s.store.Put(ctx, key, edr, ttl)
}

func (s *EDRStore) Get(ctx context.Context, key connector.ConnectionKey) (connector.EDR, error) {
	return s.store.Get(ctx, key)
}

func (s *EDRStore) Delete(ctx context.Context, key connector.ConnectionKey) error {
	return s.store.Delete(ctx, key)
}

// DeleteByAssetID scans the counterparty's rows and removes every EDR that
// was negotiated for the asset, regardless of the filter it was negotiated
// under.
func (s *EDRStore) DeleteByAssetID(ctx context.Context, counterPartyID, assetID string) (int, error) {
	pattern := edrKeyPrefix + counterPartyID + "|*"
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("error accessing redis: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			edr, err := edrFromRedis(data)
			if err != nil || edr.AssetID != assetID {
				continue
			}
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return deleted, fmt.Errorf("error accessing redis: %w", err)
			}
			deleted++
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func edrFromRedis(data string) (connector.EDR, error) {
	var edr connector.EDR
	err := json.Unmarshal([]byte(data), &edr)
	return edr, err
}

func edrToRedis(edr connector.EDR) (string, error) {
	data, err := json.Marshal(edr)
	return string(data), err
}

func edrKeyString(key connector.ConnectionKey) string {
	return edrKeyPrefix + key.CounterPartyID + "|" + key.CounterPartyAddress + "|" + key.QueryChecksum + "|" + key.PolicyChecksum
}
