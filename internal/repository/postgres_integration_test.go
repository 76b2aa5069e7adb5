//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

// openPostgres starts a throwaway Postgres and migrates it. Run with
// `go test -tags integration ./internal/repository/` on a host with Docker.
func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("channels"),
		postgres.WithUsername("channels"),
		postgres.WithPassword("channels"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := InitDB(dsn, zerolog.Nop())
	require.NoError(t, err)
	return db
}

func TestPostgresConcurrentAppendIsGapless(t *testing.T) {
	db := openPostgres(t)
	channels := NewChannelRepository(db)
	messages := NewMessageRepository(db)
	ctx := context.Background()

	ch := &models.Channel{DisplayName: "load"}
	require.NoError(t, channels.Create(ctx, ch, []string{"alice", "bob", "carol"}))

	const perSender = 25
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				assert.NoError(t, messages.Append(ctx, &models.Message{ChannelID: ch.ID, SenderID: sender, Content: "hi"}))
			}
		}(sender)
	}
	wg.Wait()

	latest, err := messages.LatestPosition(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(3*perSender), latest)

	all, err := messages.Range(ctx, ch.ID, 0, latest, 1000)
	require.NoError(t, err)
	for i, m := range all {
		assert.Equal(t, uint64(i+1), m.Position)
	}
}

func TestPostgresDuplicatePositionIsConflict(t *testing.T) {
	db := openPostgres(t)
	channels := NewChannelRepository(db)
	ctx := context.Background()

	ch := &models.Channel{DisplayName: "dup"}
	require.NoError(t, channels.Create(ctx, ch, []string{"alice"}))

	first := &models.Message{ChannelID: ch.ID, Position: 1, SenderID: "alice", Content: "a", SentAt: time.Now()}
	require.NoError(t, db.Create(first).Error)

	dup := &models.Message{ChannelID: ch.ID, Position: 1, SenderID: "alice", Content: "b", SentAt: time.Now()}
	err := mapError(db.Create(dup).Error, "message")
	assert.True(t, apperr.Is(err, apperr.CodeConflict), "got %v", err)
}

func TestPostgresMarkerNeverRegresses(t *testing.T) {
	db := openPostgres(t)
	channels := NewChannelRepository(db)
	markers := NewReadMarkerRepository(db)
	ctx := context.Background()

	ch := &models.Channel{DisplayName: "reads"}
	require.NoError(t, channels.Create(ctx, ch, []string{"alice"}))
	require.NoError(t, markers.EnsureForMember(ctx, ch.ID, "alice"))

	for _, pos := range []uint64{5, 3, 7, 6} {
		require.NoError(t, markers.UpsertMonotonic(ctx, ch.ID, "alice", pos))
	}
	marker, err := markers.Get(ctx, ch.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), marker.LastSeenPosition)
}
