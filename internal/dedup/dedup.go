// Copyright (c) 2026 Team CRM Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedup suppresses webhook redeliveries. Mail providers redeliver
// on slow or failed acknowledgements; remembering accepted message IDs in
// Redis for a bounded window keeps each inbound message's terminal state
// exactly-once.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces dedup keys in Redis.
const keyPrefix = "crm:seen:"

// KeySetter is the slice of the Redis API the filter needs.
// *redis.Client satisfies it.
type KeySetter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Filter tracks which message IDs have already been accepted.
type Filter struct {
	rdb KeySetter
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. ttl bounds how long a
// message ID stays remembered; non-positive values fall back to 24h, past
// which no provider is still retrying.
func NewFilter(rdb KeySetter, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

// IsNew reports whether the message ID has not been seen within the TTL
// window, marking it seen in the same atomic SETNX when so.
func (f *Filter) IsNew(ctx context.Context, messageID string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+messageID, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}
