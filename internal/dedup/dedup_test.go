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

package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSetter struct {
	lastKey string
	lastTTL time.Duration
	set     bool
	err     error
}

func (f *fakeSetter) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.lastKey = key
	f.lastTTL = expiration
	return redis.NewBoolResult(f.set, f.err)
}

func TestIsNewFirstDelivery(t *testing.T) {
	rdb := &fakeSetter{set: true}
	f := NewFilter(rdb, time.Hour)

	fresh, err := f.IsNew(context.Background(), "abc123@mail.example.com")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, "crm:seen:abc123@mail.example.com", rdb.lastKey)
	assert.Equal(t, time.Hour, rdb.lastTTL)
}

func TestIsNewRedelivery(t *testing.T) {
	rdb := &fakeSetter{set: false}
	f := NewFilter(rdb, time.Hour)

	fresh, err := f.IsNew(context.Background(), "abc123@mail.example.com")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestIsNewRedisFailure(t *testing.T) {
	rdb := &fakeSetter{err: errors.New("connection refused")}
	f := NewFilter(rdb, time.Hour)

	_, err := f.IsNew(context.Background(), "abc123@mail.example.com")
	assert.Error(t, err)
}

func TestNewFilterDefaultsTTL(t *testing.T) {
	rdb := &fakeSetter{set: true}
	f := NewFilter(rdb, 0)

	_, err := f.IsNew(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, rdb.lastTTL)
}
