package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
	"github.com/spec-kit/crm-intake-bot/internal/testutils"
)

func TestPostgresTicketRepository(t *testing.T) {
	pool := testutils.SetupPostgres(t)
	repo := NewTicketRepository(pool)
	ctx := context.Background()

	t.Run("CreateAssignsIncreasingIDs", func(t *testing.T) {
		testutils.ResetPostgres(t, pool)

		var last int64
		for i := 0; i < 3; i++ {
			ticket, err := repo.Create(ctx, newErrorTicket("Login fails"))
			require.NoError(t, err)
			assert.Greater(t, ticket.ID, last)
			assert.Equal(t, domain.TicketStatusNew, ticket.Status)
			last = ticket.ID
		}

		stored, err := repo.GetByID(ctx, last)
		require.NoError(t, err)
		assert.Equal(t, "Login fails", stored.Description)
		assert.Empty(t, stored.ClaimedBy)
		assert.Nil(t, stored.ClaimedAt)
		assert.Empty(t, stored.Copies)
	})

	t.Run("ConcurrentCreateUniqueIDs", func(t *testing.T) {
		testutils.ResetPostgres(t, pool)

		const n = 30
		ids := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticket, err := repo.Create(ctx, newErrorTicket("x"))
				if assert.NoError(t, err) {
					ids <- ticket.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[int64]struct{}{}
		for id := range ids {
			seen[id] = struct{}{}
		}
		assert.Len(t, seen, n)
	})

	t.Run("ClaimRaceHasOneWinnerPerTicket", func(t *testing.T) {
		testutils.ResetPostgres(t, pool)

		const tickets, claimers = 10, 4
		var wg sync.WaitGroup
		for i := 0; i < tickets; i++ {
			ticket, err := repo.Create(ctx, newErrorTicket("race"))
			require.NoError(t, err)

			var (
				mu      sync.Mutex
				winners []domain.Claimant
				losers  []*domain.AlreadyClaimedError
			)
			for j := 0; j < claimers; j++ {
				claimant := domain.Claimant{ID: int64(100 + j), Name: "admin"}
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repo.Claim(ctx, ticket.ID, claimant)
					mu.Lock()
					defer mu.Unlock()
					var rejected *domain.AlreadyClaimedError
					switch {
					case err == nil:
						winners = append(winners, claimant)
					case errors.As(err, &rejected):
						losers = append(losers, rejected)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			require.Len(t, winners, 1, "ticket %d", ticket.ID)
			assert.Len(t, losers, claimers-1)
			for _, rejected := range losers {
				assert.Equal(t, winners[0].ID, rejected.ClaimedByID)
				assert.Equal(t, ticket.ID, rejected.TicketID)
			}

			stored, err := repo.GetByID(ctx, ticket.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
			assert.Equal(t, winners[0].ID, stored.ClaimedByID)
		}

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, tickets, counts[domain.TicketStatusInProgress])
		assert.Zero(t, counts[domain.TicketStatusNew])
	})

	t.Run("ReclaimBySameAdminRejected", func(t *testing.T) {
		testutils.ResetPostgres(t, pool)
		ticket, err := repo.Create(ctx, newErrorTicket("Login fails"))
		require.NoError(t, err)

		alice := domain.Claimant{ID: 1, Name: "Alice"}
		claimed, err := repo.Claim(ctx, ticket.ID, alice)
		require.NoError(t, err)
		require.NotNil(t, claimed.ClaimedAt)

		_, err = repo.Claim(ctx, ticket.ID, alice)
		var rejected *domain.AlreadyClaimedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "Alice", rejected.ClaimedBy)
		assert.Equal(t, int64(1), rejected.ClaimedByID)

		_, err = repo.Claim(ctx, ticket.ID, domain.Claimant{ID: 2, Name: "Bob"})
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "Alice", rejected.ClaimedBy)

		after, err := repo.GetByID(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alice", after.ClaimedBy)
		assert.True(t, claimed.ClaimedAt.Equal(*after.ClaimedAt))
	})

	t.Run("UnknownTicket", func(t *testing.T) {
		testutils.ResetPostgres(t, pool)

		_, err := repo.Claim(ctx, 42, domain.Claimant{ID: 1, Name: "Alice"})
		assert.ErrorIs(t, err, domain.ErrTicketNotFound)

		_, err = repo.GetByID(ctx, 42)
		assert.ErrorIs(t, err, domain.ErrTicketNotFound)

		err = repo.RecordNotificationCopy(ctx, 42, domain.SurfaceGroup, domain.MessageRef{ChatID: -1, MessageID: 1})
		assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	})

	t.Run("RecordNotificationCopyUpserts", func(t *testing.T) {
		testutils.ResetPostgres(t, pool)
		ticket, err := repo.Create(ctx, newErrorTicket("x"))
		require.NoError(t, err)

		admin := domain.AdminSurface(101)
		require.NoError(t, repo.RecordNotificationCopy(ctx, ticket.ID, admin, domain.MessageRef{ChatID: 101, MessageID: 1}))
		require.NoError(t, repo.RecordNotificationCopy(ctx, ticket.ID, admin, domain.MessageRef{ChatID: 101, MessageID: 2}))
		require.NoError(t, repo.RecordNotificationCopy(ctx, ticket.ID, domain.SurfaceGroup, domain.MessageRef{ChatID: -1001, MessageID: 9}))

		stored, err := repo.GetByID(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, map[domain.SurfaceKey]domain.MessageRef{
			admin:               {ChatID: 101, MessageID: 2},
			domain.SurfaceGroup: {ChatID: -1001, MessageID: 9},
		}, stored.Copies)

		claimed, err := repo.Claim(ctx, ticket.ID, domain.Claimant{ID: 101, Name: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, stored.Copies, claimed.Copies)
	})

	t.Run("ClaimConsistencyConstraint", func(t *testing.T) {
		testutils.ResetPostgres(t, pool)
		ticket, err := repo.Create(ctx, newErrorTicket("x"))
		require.NoError(t, err)

		_, err = pool.Exec(ctx, `UPDATE tickets SET status='IN_PROGRESS' WHERE id=$1`, ticket.ID)
		assert.Error(t, err)
		_, err = pool.Exec(ctx, `UPDATE tickets SET claimed_by='Alice' WHERE id=$1`, ticket.ID)
		assert.Error(t, err)

		stored, err := repo.GetByID(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusNew, stored.Status)
	})
}

func TestPostgresUserRepository(t *testing.T) {
	pool := testutils.SetupPostgres(t)
	testutils.ResetPostgres(t, pool)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 7)
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, repo.Upsert(ctx, &domain.Profile{UserID: 7, Name: "Ivanov Ivan", Module: "Sales"}))
	require.NoError(t, repo.Upsert(ctx, &domain.Profile{UserID: 7, Name: "Ivanov Ivan", Module: "Service"}))

	profile, err := repo.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Service", profile.Module)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
