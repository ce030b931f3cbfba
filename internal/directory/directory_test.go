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

package directory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copp1723/team-crm-ingest/internal/models"
)

type fakeMemberStore struct {
	mu      sync.Mutex
	members []models.AssistantRecord
	loads   int32
}

func (f *fakeMemberStore) ListActiveMembers(ctx context.Context) ([]models.AssistantRecord, error) {
	atomic.AddInt32(&f.loads, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AssistantRecord, len(f.members))
	copy(out, f.members)
	return out, nil
}

func newFakeStore() *fakeMemberStore {
	return &fakeMemberStore{
		members: []models.AssistantRecord{
			{ID: "1", ExternalID: "joe", Name: "Joe Seller", PersonalEmail: "Joe@Company.com"},
			{ID: "2", ExternalID: "sue", Name: "Sue Closer", PersonalEmail: "sue@company.com"},
		},
	}
}

func TestLookupAssistantDerivesAddress(t *testing.T) {
	d := New(newFakeStore(), "mail.example.com", time.Minute)

	rec, err := d.LookupAssistant(context.Background(), "JOE-ASSISTANT@mail.example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "joe", rec.ExternalID)
	assert.Equal(t, "joe-assistant@mail.example.com", rec.AssistantAddress)
}

func TestLookupPersonalCaseInsensitive(t *testing.T) {
	d := New(newFakeStore(), "mail.example.com", time.Minute)

	rec, err := d.LookupPersonal(context.Background(), "joe@company.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Joe Seller", rec.Name)

	miss, err := d.LookupPersonal(context.Background(), "stranger@elsewhere.com")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

// TestTTLGovernsReload verifies a lookup right after population does not
// reload, and a lookup after expiry reloads exactly once.
func TestTTLGovernsReload(t *testing.T) {
	store := newFakeStore()
	d := New(store, "mail.example.com", 50*time.Millisecond)
	ctx := context.Background()

	_, err := d.LookupAssistant(ctx, "joe-assistant@mail.example.com")
	require.NoError(t, err)
	_, err = d.LookupAssistant(ctx, "sue-assistant@mail.example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.loads), "fresh snapshot must not reload")

	time.Sleep(60 * time.Millisecond)

	_, err = d.LookupAssistant(ctx, "joe-assistant@mail.example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&store.loads), "expired snapshot reloads exactly once")
}

// TestConcurrentLookupsSingleReload verifies a burst of lookups against an
// expired cache triggers one reload and each observes a complete snapshot.
func TestConcurrentLookupsSingleReload(t *testing.T) {
	store := newFakeStore()
	d := New(store, "mail.example.com", time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := d.LookupAssistant(ctx, "sue-assistant@mail.example.com")
			assert.NoError(t, err)
			assert.NotNil(t, rec)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&store.loads))
}

func TestClearForcesReload(t *testing.T) {
	store := newFakeStore()
	d := New(store, "mail.example.com", time.Hour)
	ctx := context.Background()

	_, err := d.LookupAssistant(ctx, "joe-assistant@mail.example.com")
	require.NoError(t, err)

	d.Clear()

	_, err = d.LookupAssistant(ctx, "joe-assistant@mail.example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&store.loads))
}

// TestRefreshSwapsWholeSnapshot verifies a refresh replaces the member set
// atomically rather than mutating it in place.
func TestRefreshSwapsWholeSnapshot(t *testing.T) {
	store := newFakeStore()
	d := New(store, "mail.example.com", time.Hour)
	ctx := context.Background()

	rec, err := d.LookupAssistant(ctx, "joe-assistant@mail.example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)

	store.mu.Lock()
	store.members = store.members[1:] // joe deactivated
	store.mu.Unlock()

	require.NoError(t, d.Refresh(ctx))

	gone, err := d.LookupAssistant(ctx, "joe-assistant@mail.example.com")
	require.NoError(t, err)
	assert.Nil(t, gone)

	still, err := d.LookupAssistant(ctx, "sue-assistant@mail.example.com")
	require.NoError(t, err)
	assert.NotNil(t, still)
}
