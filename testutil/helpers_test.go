package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/casegate/casestore"
)

func TestSeededStore(t *testing.T) {
	repo := SeededStore(t)
	ctx := TestContext(t)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NotEmpty(t, PendingID(t, repo, "John"))
}

func TestAssertResolved(t *testing.T) {
	repo := SeededStore(t)
	ctx := TestContext(t)
	id := PendingID(t, repo, "Sarah")

	require.NoError(t, repo.UpdateStatus(ctx, id, casestore.StatusResolvedAdverse, "disputed"))
	ev := AssertResolved(t, repo, id, casestore.StatusResolvedAdverse)
	assert.Equal(t, "disputed", ev.Note)
}
