package projects

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devradar/devradar/pkg/models"
	"github.com/devradar/devradar/test/util"
)

func discoveredFixture() DiscoveredFields {
	return DiscoveredFields{
		Name:           "demo",
		Framework:      "React",
		Language:       "typescript",
		PackageManager: "npm",
		FileCount:      12,
		LinesOfCode:    340,
		Size:           20480,
		LastModified:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestUpsertDiscoveredIsIdempotentByPath(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	first, created, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.StatusDiscovered, first.Status)
	assert.True(t, first.IsActive)

	f := discoveredFixture()
	f.Framework = "Next.js"
	second, created, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", f)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Next.js", second.Framework)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRediscoveryDoesNotDisturbInFlightStatus(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	p, _, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, p.ID, models.StatusQueued))
	require.NoError(t, s.UpdateStatus(ctx, p.ID, models.StatusAnalyzing))

	again, created, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.StatusAnalyzing, again.Status)
}

func TestRediscoveryRevivesArchivedProject(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	_, _, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)
	_, err = s.MarkRemoved(ctx, "/srv/projects/demo")
	require.NoError(t, err)

	// The directory reappears: the row must come back as an active,
	// freshly-discovered project, never active-but-archived.
	revived, created, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, revived.IsActive)
	assert.Equal(t, models.StatusDiscovered, revived.Status)
}

func TestMarkRemovedArchives(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	_, _, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)

	removed, err := s.MarkRemoved(ctx, "/srv/projects/demo")
	require.NoError(t, err)
	assert.False(t, removed.IsActive)
	assert.Equal(t, models.StatusArchived, removed.Status)

	_, err = s.MarkRemoved(ctx, "/srv/projects/never-existed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteAnalysisAdvancesStatusAtomically(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	p, _, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, p.ID, models.StatusQueued))
	require.NoError(t, s.UpdateStatus(ctx, p.ID, models.StatusAnalyzing))

	err = s.CompleteAnalysis(ctx, p.ID, models.Analysis{
		Summary:         "a tidy react app",
		TechStack:       models.TechStack{Languages: []string{"typescript"}, Frameworks: []string{"react"}},
		Complexity:      "simple",
		CompletionScore: 70,
		MaturityLevel:   "prototype",
		Model:           "gemini-2.5-flash",
		TokensUsed:      1234,
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnalyzed, got.Status)
	require.NotNil(t, got.AnalyzedAt)

	var count int
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM project_analyses WHERE project_id = $1`, p.ID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	p, _, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)

	// DISCOVERED cannot jump straight to ANALYZED.
	err = s.UpdateStatus(ctx, p.ID, models.StatusAnalyzed)
	assert.Error(t, err)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiscovered, got.Status)
}

func TestResetStuckOnlyAppliesToAnalyzing(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	p, _, err := s.UpsertDiscovered(ctx, "/srv/projects/demo", discoveredFixture())
	require.NoError(t, err)

	assert.Error(t, s.ResetStuck(ctx, p.ID))

	require.NoError(t, s.UpdateStatus(ctx, p.ID, models.StatusQueued))
	require.NoError(t, s.UpdateStatus(ctx, p.ID, models.StatusAnalyzing))
	require.NoError(t, s.ResetStuck(ctx, p.ID))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiscovered, got.Status)
}

func TestDeleteInactiveClearsArchivedRows(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	_, _, err := s.UpsertDiscovered(ctx, "/srv/projects/keep", discoveredFixture())
	require.NoError(t, err)
	_, _, err = s.UpsertDiscovered(ctx, "/srv/projects/gone", discoveredFixture())
	require.NoError(t, err)
	_, err = s.MarkRemoved(ctx, "/srv/projects/gone")
	require.NoError(t, err)

	removed, err := s.DeleteInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/srv/projects/keep", all[0].Path)
}
