package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/schema"
	"github.com/roach88/credsync/internal/source"
	"github.com/roach88/credsync/internal/store"
	"github.com/roach88/credsync/internal/testutil"
	"github.com/roach88/credsync/internal/upsert"
)

const appURL = "https://unsere-kinder-pesh-town.herokuapp.com"

var runStart = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	refs := testutil.NewSequence("ref")
	s, err := store.Open(filepath.Join(t.TempDir(), "credsync.db"),
		store.WithClock(testutil.FixedClock(runStart).Now),
		store.WithRefGenerator(refs.Generate),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, logger *slog.Logger, opts ...Option) *Engine {
	t.Helper()
	checker, err := schema.NewChecker()
	require.NoError(t, err)

	base := []Option{
		WithClock(testutil.NewClock(runStart, time.Second)),
		WithRunIDGenerator(testutil.NewSequence("run")),
		WithLogger(logger),
		WithSchemaChecker(checker),
	}
	return New(s, s, Settings{
		URL:               appURL,
		SchoolID:          "unsere_kinder",
		MergeEntitlements: true,
	}, append(base, opts...)...)
}

func seed(t *testing.T, s *store.Store, origin credential.Origin, docs ...map[string]any) {
	t.Helper()
	for _, doc := range docs {
		require.NoError(t, s.InsertSource(context.Background(), origin, doc))
	}
}

func TestRun_StaffExampleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, credential.OriginStaff,
		map[string]any{"employeeID": "E1", "firstName": "A", "title": "Teacher"},
		map[string]any{"employeeID": "E2", "firstName": "B", "title": "Left"},
	)
	e := newTestEngine(t, s, discardLogger())

	first, err := e.Run(ctx, credential.OriginStaff)
	require.NoError(t, err)
	assert.Equal(t, "run-0001", first.RunID)
	assert.Equal(t, source.Stats{
		Total:              2,
		Excluded:           1,
		Qualifying:         1,
		Resolvable:         1,
		DistinctIdentities: 1,
	}, first.Source)
	assert.Equal(t, 1, first.Mapped)
	assert.Equal(t, upsert.Result{Inserted: 1}, first.Write)
	require.NotNil(t, first.Validation)
	assert.True(t, first.Validation.Match)
	assert.Zero(t, first.Validation.SchemaViolations)
	assert.Empty(t, first.Notices)

	before, err := s.ListAll(ctx)
	require.NoError(t, err)

	second, err := e.Run(ctx, credential.OriginStaff)
	require.NoError(t, err)
	assert.Equal(t, "run-0002", second.RunID)
	assert.Equal(t, upsert.Result{Matched: 1}, second.Write)

	after, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.Len(t, after, 1)
	got := after[0]
	assert.Equal(t, "E1", got.UserID)
	assert.Equal(t, []string{credential.AppInstitute, credential.AppMentor}, got.AppIDs)
	assert.Equal(t, "A", *got.FirstName)
	assert.Equal(t, appURL, got.URL)
	assert.Equal(t, "unsere_kinder", *got.SchoolID)
}

func TestRun_GuardianIdentityAndExclusion(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, credential.OriginGuardian,
		map[string]any{"parentId": "P1", "firstNameFather": "Ada", "title": "Mother"},
		map[string]any{"childID": "C2"},
		map[string]any{"parentId": "P3", "isLeave": true},
		map[string]any{"firstNameFather": "Nobody"},
	)
	e := newTestEngine(t, s, discardLogger())

	report, err := e.Run(ctx, credential.OriginGuardian)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Source.Excluded)
	assert.Equal(t, int64(1), report.Source.MissingIdentity)
	assert.Equal(t, int64(2), report.Write.Inserted)
	require.Len(t, report.Notices, 1)
	assert.Equal(t, ErrCodeIdentityMissing, report.Notices[0].Code)
	assert.Equal(t, int64(2), report.Validation.Expected)
	assert.Equal(t, int64(2), report.Validation.Actual)

	p1, err := s.FindByUserID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Parent", *p1.Title, "guardian title is forced")
	assert.Equal(t, []string{credential.AppParent}, p1.AppIDs)

	_, err = s.FindByUserID(ctx, "C2")
	require.NoError(t, err)
	_, err = s.FindByUserID(ctx, "P3")
	assert.ErrorIs(t, err, credential.ErrNotFound, "departed guardians never produce a credential")
}

func TestRun_SourcePasswordsStillAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	passwords := map[string]string{
		"E1": "secret ",
		"E2": "Rene\u0301",
		"E3": "   ",
	}
	for id, pw := range passwords {
		seed(t, s, credential.OriginStaff, map[string]any{"employeeID": id, "password": pw, "title": "Teacher"})
	}
	e := newTestEngine(t, s, discardLogger())

	_, err := e.Run(ctx, credential.OriginStaff)
	require.NoError(t, err)

	for id, pw := range passwords {
		got, err := s.FindByUserID(ctx, id)
		require.NoError(t, err, id)
		require.NotNil(t, got.Password, id)
		assert.Equal(t, pw, *got.Password, id)
		assert.True(t, got.Authenticate(pw, credential.AppMentor), "%s logs in with its source password", id)
	}
}

func TestRun_EntitlementsAccumulateInEitherOrder(t *testing.T) {
	ctx := context.Background()
	orders := [][]credential.Origin{
		{credential.OriginStaff, credential.OriginGuardian},
		{credential.OriginGuardian, credential.OriginStaff},
	}

	for _, order := range orders {
		t.Run(fmt.Sprintf("%s_then_%s", order[0], order[1]), func(t *testing.T) {
			s := openStore(t)
			seed(t, s, credential.OriginStaff, map[string]any{"employeeID": "X1", "title": "Teacher"})
			seed(t, s, credential.OriginGuardian, map[string]any{"parentId": "X1"})
			e := newTestEngine(t, s, discardLogger())

			for _, origin := range order {
				_, err := e.Run(ctx, origin)
				require.NoError(t, err)
			}

			all, err := s.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.ElementsMatch(t, []string{
				credential.AppInstitute,
				credential.AppMentor,
				credential.AppParent,
			}, all[0].AppIDs)
		})
	}
}

func TestRun_ConcurrentOriginsConverge(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("U%02d", i)
		seed(t, s, credential.OriginStaff, map[string]any{"employeeID": id})
		seed(t, s, credential.OriginGuardian, map[string]any{"parentId": id})
		// an independent writer already created one of every other identity
		if i%2 == 0 {
			_, err := s.InsertCredential(ctx, credential.Record{UserID: id, AppIDs: []string{}, URL: appURL})
			require.NoError(t, err)
		}
	}

	engines := []*Engine{
		newTestEngine(t, s, discardLogger()),
		newTestEngine(t, s, discardLogger()),
	}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, origin := range credential.Origins {
		wg.Add(1)
		go func(i int, origin credential.Origin) {
			defer wg.Done()
			_, errs[i] = engines[i].Run(ctx, origin)
		}(i, origin)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	_, err := newTestEngine(t, s, discardLogger()).Dedupe(ctx)
	require.NoError(t, err)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 20)
	for _, c := range all {
		assert.ElementsMatch(t, []string{
			credential.AppInstitute,
			credential.AppMentor,
			credential.AppParent,
		}, c.AppIDs, c.UserID)
	}
}

func TestRun_WriteConflictCompletesRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, credential.OriginStaff,
		map[string]any{"employeeID": "E1"},
		map[string]any{"employeeID": "E2"},
	)
	_, err := s.DB().Exec(`
		INSERT INTO credentials (id, user_id, url, app_ids, created_at, updated_at)
		VALUES ('bad', 'E1', 'https://x', '"MentorApp"', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
	`)
	require.NoError(t, err)
	e := newTestEngine(t, s, discardLogger())

	report, err := e.Run(ctx, credential.OriginStaff)
	require.Error(t, err)
	assert.True(t, IsWriteConflict(err))
	assert.False(t, IsConnectivityError(err))

	require.Len(t, report.Write.Failures, 1)
	assert.Equal(t, "E1", report.Write.Failures[0].UserID)
	assert.Equal(t, int64(1), report.Write.Inserted)

	require.NotNil(t, report.Validation, "validation still runs after per-op failures")
	assert.Equal(t, int64(2), report.Validation.Expected)
	assert.Equal(t, int64(1), report.Validation.Actual)
	require.Len(t, report.Notices, 1)
	assert.Equal(t, ErrCodeValidationMismatch, report.Notices[0].Code)
}

// unreachableTarget fails Ping and counts resolver scans.
type unreachableTarget struct {
	TargetDataset
	scans int
}

func (u *unreachableTarget) Ping(context.Context) error {
	return fmt.Errorf("ping: %w", credential.ErrUnavailable)
}

func (u *unreachableTarget) DuplicateGroups(ctx context.Context) ([]credential.DuplicateGroup, error) {
	u.scans++
	return u.TargetDataset.DuplicateGroups(ctx)
}

func TestRun_ConnectivityAbortsBeforeResolver(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, credential.OriginStaff, map[string]any{"employeeID": "E1"})
	target := &unreachableTarget{TargetDataset: s}

	e := New(s, target, Settings{URL: appURL}, WithLogger(discardLogger()))
	report, err := e.Run(ctx, credential.OriginStaff)
	require.Error(t, err)
	assert.True(t, IsConnectivityError(err))

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, StageWrite, re.Stage)
	assert.Zero(t, target.scans, "resolver must not run after a fatal error")
	assert.Nil(t, report.Validation)
	assert.Equal(t, int64(1), report.Source.Qualifying)
}

func TestDedupe_P7Example(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.InsertCredential(ctx, credential.Record{UserID: "P7", AppIDs: []string{}, URL: appURL})
	require.NoError(t, err)
	keep, err := s.InsertCredential(ctx, credential.Record{UserID: "P7", AppIDs: []string{credential.AppParent}, URL: appURL})
	require.NoError(t, err)
	e := newTestEngine(t, s, discardLogger())

	report, err := e.Dedupe(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResolveReport{Groups: 1, Deleted: 1}, report)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep, all[0].Ref)
	assert.Equal(t, []string{credential.AppParent}, all[0].AppIDs)

	again, err := e.Dedupe(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResolveReport{}, again, "resolving a resolved dataset is a no-op")
}

func TestDedupe_DivergentEntitlements(t *testing.T) {
	tests := []struct {
		name    string
		merge   bool
		want    []string
		message string
		merged  int
	}{
		{"merge", true, []string{credential.AppScholar, credential.AppParent}, "divergent entitlements merged", 1},
		{"discard", false, []string{credential.AppScholar}, "divergent entitlements discarded", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t)
			keep, err := s.InsertCredential(ctx, credential.Record{UserID: "P7", AppIDs: []string{credential.AppScholar}, URL: appURL})
			require.NoError(t, err)
			_, err = s.InsertCredential(ctx, credential.Record{UserID: "P7", AppIDs: []string{credential.AppParent}, URL: appURL})
			require.NoError(t, err)

			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))
			r := NewResolver(s, tt.merge, logger)

			report, err := r.Resolve(ctx)
			require.NoError(t, err)
			assert.Equal(t, ResolveReport{Groups: 1, Deleted: 1, Merged: tt.merged}, report)

			got, err := s.FindByUserID(ctx, "P7")
			require.NoError(t, err)
			assert.Equal(t, keep, got.Ref)
			assert.Equal(t, tt.want, got.AppIDs)
			assert.Contains(t, logs.String(), "level=WARN")
			assert.Contains(t, logs.String(), tt.message)
		})
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name    string
		members []credential.Member
		want    string
	}{
		{
			name: "first entitled member wins",
			members: []credential.Member{
				{Ref: "a", AppIDs: []string{}, HasAppIDs: true},
				{Ref: "b", AppIDs: []string{credential.AppParent}, HasAppIDs: true},
				{Ref: "c", AppIDs: []string{credential.AppMentor}, HasAppIDs: true},
			},
			want: "b",
		},
		{
			name: "no entitled member keeps the first",
			members: []credential.Member{
				{Ref: "a", AppIDs: []string{}, HasAppIDs: true},
				{Ref: "b"},
			},
			want: "a",
		},
		{
			name: "malformed entitlements are not entitled",
			members: []credential.Member{
				{Ref: "a"},
				{Ref: "b", AppIDs: []string{credential.AppParent}, HasAppIDs: true},
			},
			want: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			survivor, rest := Canonical(credential.DuplicateGroup{UserID: "U", Members: tt.members})
			assert.Equal(t, tt.want, survivor.Ref)
			assert.Len(t, rest, len(tt.members)-1)
			for _, m := range rest {
				assert.NotEqual(t, tt.want, m.Ref)
			}
		})
	}
}

func TestCanonical_EmptyGroup(t *testing.T) {
	survivor, rest := Canonical(credential.DuplicateGroup{UserID: "U"})
	assert.Equal(t, credential.Member{}, survivor)
	assert.Empty(t, rest)
}

func TestValidate_CountsOtherWritersAndSchema(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, credential.OriginStaff, map[string]any{"employeeID": "E1"})
	e := newTestEngine(t, s, discardLogger())

	_, err := e.Run(ctx, credential.OriginStaff)
	require.NoError(t, err)

	_, err = s.InsertCredential(ctx, credential.Record{
		UserID: "T1",
		AppIDs: credential.WebhookEntitlements("Teacher"),
	})
	require.NoError(t, err)

	v, err := e.Validate(ctx, credential.OriginStaff)
	require.NoError(t, err)
	assert.Equal(t, credential.AppMentor, v.AppID)
	assert.Equal(t, int64(1), v.Expected)
	assert.Equal(t, int64(1), v.Actual)
	assert.Equal(t, int64(2), v.TotalEntitled)
	assert.True(t, v.Match)
	assert.Equal(t, 1, v.SchemaViolations, "T1 has no url")
	require.NotEmpty(t, v.Violations)
	assert.Equal(t, "url", v.Violations[0].Field)
}
