package reputation

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/email-verifier/internal/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestUnseenDomainIsZeroed(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewStore(client)
	rep, err := store.Get(context.Background(), "never-seen.io")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rep.Total)
	assert.Equal(t, 0, rep.Score)
	assert.Equal(t, domain.TrustUnknown, rep.Trust)
}

func TestScoreIgnoredBelowMinTotal(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewStore(client)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Record(ctx, "acme.io", domain.CategoryDeliverable))
	}

	rep, err := store.Get(ctx, "acme.io")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rep.Total)
	assert.Equal(t, 0, rep.Score, "fewer than 5 observations score zero")
	assert.Equal(t, domain.TrustUnknown, rep.Trust)
}

func TestScoreAndTrustBands(t *testing.T) {
	tests := []struct {
		name      string
		outcomes  map[domain.Category]int
		wantScore int
		wantTrust domain.Trust
	}{
		{
			name:      "all deliverable",
			outcomes:  map[domain.Category]int{domain.CategoryDeliverable: 10},
			wantScore: 40,
			wantTrust: domain.TrustHigh,
		},
		{
			name: "mostly deliverable",
			outcomes: map[domain.Category]int{
				domain.CategoryDeliverable: 8,
				domain.CategoryRisky:       2,
			},
			wantScore: 28, // 40*0.8 - 20*0.2
			wantTrust: domain.TrustMedium,
		},
		{
			name: "mixed leaning positive",
			outcomes: map[domain.Category]int{
				domain.CategoryDeliverable:   3,
				domain.CategoryUndeliverable: 1,
				domain.CategoryUnknown:       1,
			},
			wantScore: 14, // 40*0.6 - 50*0.2
			wantTrust: domain.TrustMedium,
		},
		{
			name: "burned domain",
			outcomes: map[domain.Category]int{
				domain.CategoryUndeliverable: 10,
			},
			wantScore: -50,
			wantTrust: domain.TrustUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, cleanup := setupTestRedis(t)
			defer cleanup()

			store := NewStore(client)
			ctx := context.Background()
			for status, n := range tt.outcomes {
				for i := 0; i < n; i++ {
					require.NoError(t, store.Record(ctx, "acme.io", status))
				}
			}

			rep, err := store.Get(ctx, "acme.io")
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, rep.Score)
			assert.Equal(t, tt.wantTrust, rep.Trust)
		})
	}
}

type memPersister struct {
	mu   sync.Mutex
	rows map[string]Reputation
}

func (m *memPersister) Upsert(_ context.Context, rep Reputation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rep.Domain] = rep
	return nil
}

func TestSnapshotterFlushesDirtyDomains(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewStore(client)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, store.Record(ctx, "acme.io", domain.CategoryDeliverable))
	}
	require.NoError(t, store.Record(ctx, "other.io", domain.CategoryRisky))

	persist := &memPersister{rows: make(map[string]Reputation)}
	snap := NewSnapshotter(store, persist, nil, 0)
	require.NoError(t, snap.Flush(ctx))

	assert.Len(t, persist.rows, 2)
	assert.Equal(t, int64(6), persist.rows["acme.io"].Total)
	assert.Equal(t, 40, persist.rows["acme.io"].Score)

	// Second flush has nothing dirty and writes nothing new.
	persist.rows = make(map[string]Reputation)
	require.NoError(t, snap.Flush(ctx))
	assert.Empty(t, persist.rows)
}
