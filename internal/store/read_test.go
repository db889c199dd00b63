package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/credsync/internal/credential"
)

func TestFindByUserID_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.FindByUserID(context.Background(), "nobody")
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.False(t, credential.IsUnavailable(err))
}

func TestEntitledQueries(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for _, rec := range []credential.Record{
		{UserID: "P2", AppIDs: []string{credential.AppParent}, URL: "https://x"},
		{UserID: "P1", AppIDs: []string{credential.AppScholar, credential.AppParent}, URL: "https://x"},
		{UserID: "E1", AppIDs: []string{credential.AppMentor}, URL: "https://x"},
		{UserID: "P3", AppIDs: []string{}, URL: "https://x"},
	} {
		_, err := s.InsertCredential(ctx, rec)
		require.NoError(t, err)
	}
	_, err := s.db.Exec(`
		INSERT INTO credentials (id, user_id, url, app_ids, created_at, updated_at)
		VALUES ('bad', 'P4', 'https://x', '{"0":"ParentApp"}', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
	`)
	require.NoError(t, err)

	listed, err := s.ListEntitled(ctx, credential.AppParent)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "P1", listed[0].UserID)
	assert.Equal(t, "P2", listed[1].UserID)

	n, err := s.CountEntitled(ctx, credential.AppParent, []string{"P1", "P3", "P4", "E1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountEntitled(ctx, credential.AppParent, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDuplicateGroups_OrderAndMalformedMembers(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	insert := func(id, userID string, appIDs any) {
		t.Helper()
		_, err := s.db.Exec(`
			INSERT INTO credentials (id, user_id, url, app_ids, created_at, updated_at)
			VALUES (?, ?, 'https://x', ?, '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
		`, id, userID, appIDs)
		require.NoError(t, err)
	}
	insert("z1", "b", `["ParentApp"]`)
	insert("a1", "a", nil)
	insert("solo", "c", `[]`)
	insert("z2", "b", `[]`)
	insert("a2", "a", `"ParentApp"`)

	groups, err := s.DuplicateGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "a", groups[0].UserID)
	assert.Equal(t, []credential.Member{
		{Ref: "a1"},
		{Ref: "a2"},
	}, groups[0].Members)

	assert.Equal(t, "b", groups[1].UserID)
	assert.Equal(t, []credential.Member{
		{Ref: "z1", AppIDs: []string{credential.AppParent}, HasAppIDs: true},
		{Ref: "z2", AppIDs: []string{}, HasAppIDs: true},
	}, groups[1].Members)
}
