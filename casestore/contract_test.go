package casestore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/types"
)

// runRepositoryContract exercises the behaviour every backend must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("PingAfterClose", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Close())
		assert.ErrorIs(t, repo.Ping(ctx), ErrStoreClosed)
	})

	t.Run("FindPendingOnEmptyStore", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindPendingByIdentity(ctx, "John")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateAndFindPending", func(t *testing.T) {
		repo := newRepo(t)
		rec := sampleFor(t, "John")
		require.NoError(t, repo.Create(ctx, rec))
		require.NotEmpty(t, rec.ID)

		found, err := repo.FindPendingByIdentity(ctx, "John")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, found.ID)
		assert.Equal(t, StatusPending, found.Status)
		assert.Equal(t, "Smith", found.ExpectedAnswer)
		assert.Equal(t, "4242", found.Field(FieldCardEnding))

		_, err = repo.FindPendingByIdentity(ctx, "john")
		assert.ErrorIs(t, err, ErrNotFound, "identity lookup is exact")
	})

	t.Run("SecondPendingForIdentityRejected", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, sampleFor(t, "John")))
		err := repo.Create(ctx, sampleFor(t, "John"))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("CreateRejectsInvalidInput", func(t *testing.T) {
		repo := newRepo(t)
		assert.ErrorIs(t, repo.Create(ctx, nil), ErrInvalidInput)
		assert.ErrorIs(t, repo.Create(ctx, &Record{IdentityKey: "  "}), ErrInvalidInput)
		assert.ErrorIs(t, repo.Create(ctx, &Record{IdentityKey: "x", Status: "weird"}), ErrInvalidInput)
	})

	t.Run("UpdateStatusResolvesAndAudits", func(t *testing.T) {
		repo := newRepo(t)
		rec := sampleFor(t, "John")
		require.NoError(t, repo.Create(ctx, rec))

		actx := types.WithSessionID(ctx, "s-1")
		require.NoError(t, repo.UpdateStatus(actx, rec.ID, StatusResolvedSafe, "confirmed"))

		_, err := repo.FindPendingByIdentity(ctx, "John")
		assert.ErrorIs(t, err, ErrNotFound, "terminal records are never returned")

		got, err := repo.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusResolvedSafe, got.Status)
		assert.Equal(t, "confirmed", got.OutcomeNote)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

		events, err := repo.History(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, StatusPending, events[0].From)
		assert.Equal(t, StatusResolvedSafe, events[0].To)
		assert.Equal(t, "confirmed", events[0].Note)
		assert.Equal(t, "session:s-1", events[0].Actor)
	})

	t.Run("UpdateStatusOnTerminalRecordConflicts", func(t *testing.T) {
		repo := newRepo(t)
		rec := sampleFor(t, "Sarah")
		require.NoError(t, repo.Create(ctx, rec))
		require.NoError(t, repo.UpdateStatus(ctx, rec.ID, StatusResolvedAdverse, "blocked"))

		err := repo.UpdateStatus(ctx, rec.ID, StatusResolvedSafe, "changed mind")
		assert.ErrorIs(t, err, ErrConflict)

		got, err := repo.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusResolvedAdverse, got.Status)
		assert.Equal(t, "blocked", got.OutcomeNote)

		events, err := repo.History(ctx, rec.ID)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("UpdateStatusValidation", func(t *testing.T) {
		repo := newRepo(t)
		assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", StatusResolvedSafe, ""), ErrNotFound)
		assert.ErrorIs(t, repo.UpdateStatus(ctx, "", StatusResolvedSafe, ""), ErrInvalidInput)
		assert.ErrorIs(t, repo.UpdateStatus(ctx, "x", StatusPending, ""), ErrInvalidInput)

		_, err := repo.History(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("NewPendingAfterResolution", func(t *testing.T) {
		repo := newRepo(t)
		first := sampleFor(t, "Mike")
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.UpdateStatus(ctx, first.ID, StatusResolvedSafe, "ok"))

		second := sampleFor(t, "Mike")
		require.NoError(t, repo.Create(ctx, second))

		found, err := repo.FindPendingByIdentity(ctx, "Mike")
		require.NoError(t, err)
		assert.Equal(t, second.ID, found.ID)
	})

	t.Run("ListAllAndCount", func(t *testing.T) {
		repo := newRepo(t)
		n, err := Seed(ctx, repo, SampleRecords(), zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		names := map[string]bool{}
		for _, rec := range all {
			names[rec.IdentityKey] = true
		}
		assert.Equal(t, map[string]bool{"John": true, "Sarah": true, "Mike": true}, names)
	})

	t.Run("SeedIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		_, err := Seed(ctx, repo, SampleRecords(), nil)
		require.NoError(t, err)
		n, err := Seed(ctx, repo, SampleRecords(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("SeedResumesAfterPartialFailure", func(t *testing.T) {
		repo := newRepo(t)
		flaky := &failNthCreate{Repository: repo, failOn: 2}
		n, err := Seed(ctx, flaky, SampleRecords(), nil)
		require.Error(t, err)
		assert.Equal(t, 1, n)

		n, err = Seed(ctx, repo, SampleRecords(), nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("SeedKeepsResolvedSamplesResolved", func(t *testing.T) {
		repo := newRepo(t)
		_, err := Seed(ctx, repo, SampleRecords(), nil)
		require.NoError(t, err)
		john, err := repo.FindPendingByIdentity(ctx, "John")
		require.NoError(t, err)
		require.NoError(t, repo.UpdateStatus(ctx, john.ID, StatusResolvedSafe, "confirmed"))

		n, err := Seed(ctx, repo, SampleRecords(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		_, err = repo.FindPendingByIdentity(ctx, "John")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SeedSkipsOperatorData", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, &Record{IdentityKey: "Alice", Challenge: "q?", ExpectedAnswer: "a"}))

		n, err := Seed(ctx, repo, SampleRecords(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("DuplicateCreateLeavesInputUntouched", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, sampleFor(t, "Sarah")))

		dup := &Record{IdentityKey: "  Sarah  ", Challenge: "q?", ExpectedAnswer: "a"}
		err := repo.Create(ctx, dup)
		require.ErrorIs(t, err, ErrAlreadyExists)
		assert.Empty(t, dup.ID)
		assert.Empty(t, dup.Status)
		assert.Equal(t, "  Sarah  ", dup.IdentityKey)
		assert.True(t, dup.CreatedAt.IsZero())
		assert.True(t, dup.UpdatedAt.IsZero())
		assert.Nil(t, dup.Fields)

		ok := &Record{IdentityKey: " Dana ", Challenge: "q?", ExpectedAnswer: "a"}
		require.NoError(t, repo.Create(ctx, ok))
		assert.NotEmpty(t, ok.ID)
		assert.Equal(t, "Dana", ok.IdentityKey)
		assert.Equal(t, StatusPending, ok.Status)
		assert.False(t, ok.CreatedAt.IsZero())
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		repo := newRepo(t)
		rec := sampleFor(t, "John")
		require.NoError(t, repo.Create(ctx, rec))

		found, err := repo.FindPendingByIdentity(ctx, "John")
		require.NoError(t, err)
		found.Fields[FieldCardEnding] = "0000"
		found.Status = StatusResolvedAdverse

		again, err := repo.FindPendingByIdentity(ctx, "John")
		require.NoError(t, err)
		assert.Equal(t, "4242", again.Field(FieldCardEnding))
	})

	t.Run("ConcurrentResolutionHasOneWinner", func(t *testing.T) {
		repo := newRepo(t)
		rec := sampleFor(t, "John")
		require.NoError(t, repo.Create(ctx, rec))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status := StatusResolvedSafe
				if i%2 == 1 {
					status = StatusResolvedAdverse
				}
				err := repo.UpdateStatus(ctx, rec.ID, status, "race")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, conflicts)

		events, err := repo.History(ctx, rec.ID)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

// sampleFor returns a fresh copy of the sample record for identity.
func sampleFor(t *testing.T, identity string) *Record {
	t.Helper()
	for _, rec := range SampleRecords() {
		if rec.IdentityKey == identity {
			return rec
		}
	}
	t.Fatalf("no sample record for %q", identity)
	return nil
}

// failNthCreate 让第 failOn 次 Create 返回存储错误
type failNthCreate struct {
	Repository
	failOn int
	calls  int
}

func (f *failNthCreate) Create(ctx context.Context, rec *Record) error {
	f.calls++
	if f.calls == f.failOn {
		return persistenceError("create record", errors.New("disk full"))
	}
	return f.Repository.Create(ctx, rec)
}
