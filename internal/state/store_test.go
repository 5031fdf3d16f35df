package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSpec() prior.Spec {
	return prior.Spec{AlphaMean: 300, AlphaScale: 50, BetaMean: 0.017, BetaScale: 0.005}
}

func initialPosterior(t *testing.T, id string) Posterior {
	t.Helper()
	p, err := testSpec().Params()
	require.NoError(t, err)
	return Posterior{VersionID: id, Params: p, CreatedAt: time.Now().UTC()}
}

func TestCreateSessionAndGetCurrent(t *testing.T) {
	s := tempDB(t)
	init := initialPosterior(t, "v0")

	sess, err := s.CreateSession("", testSpec(), []float64{100, 200, 300}, init)
	require.NoError(t, err)
	require.NotEmpty(t, sess.SessionID)

	cur, err := s.GetCurrent(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "v0", cur.VersionID)
	assert.Empty(t, cur.ParentID)
	assert.InDelta(t, init.Params.AlphaMu, cur.Params.AlphaMu, 1e-12)

	got, err := s.GetSession(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, testSpec(), got.Prior)
	assert.Equal(t, []float64{100, 200, 300}, got.Candidates)
}

func TestCommitPosteriorMovesActivePointer(t *testing.T) {
	s := tempDB(t)
	sess, err := s.CreateSession("sub-01", testSpec(), []float64{1, 2}, initialPosterior(t, "v0"))
	require.NoError(t, err)

	next := initialPosterior(t, "v1")
	next.ParentID = "v0"
	next.Params.AlphaMu -= 0.1
	next.NumObservations = 1
	next.ELBO = -3.5
	require.NoError(t, s.CommitPosterior(sess.SessionID, next))

	cur, err := s.GetCurrent(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "v1", cur.VersionID)
	assert.Equal(t, "v0", cur.ParentID)
	assert.Equal(t, 1, cur.NumObservations)
	assert.InDelta(t, -3.5, cur.ELBO, 1e-12)

	versions, err := s.ListVersions(sess.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v1", versions[0].VersionID)
	assert.Equal(t, "v0", versions[1].VersionID)
}

func TestCommitPosteriorUnknownParentFails(t *testing.T) {
	s := tempDB(t)
	sess, err := s.CreateSession("", testSpec(), []float64{1}, initialPosterior(t, "v0"))
	require.NoError(t, err)

	orphan := initialPosterior(t, "v1")
	orphan.ParentID = "missing"
	require.Error(t, s.CommitPosterior(sess.SessionID, orphan))

	cur, err := s.GetCurrent(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "v0", cur.VersionID, "failed commit must not move the active pointer")
}

func TestObservationsRoundTripInTrialOrder(t *testing.T) {
	s := tempDB(t)
	sess, err := s.CreateSession("", testSpec(), []float64{100, 150, 200}, initialPosterior(t, "v0"))
	require.NoError(t, err)

	obs := []Observation{{X: 100, Y: 0}, {X: 200, Y: 1}, {X: 150, Y: 0}}
	for i, o := range obs {
		require.NoError(t, s.AppendObservation(sess.SessionID, i+1, o))
	}

	got, err := s.ListObservations(sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, obs, got)

	err = s.AppendObservation(sess.SessionID, 2, Observation{X: 100, Y: 1})
	assert.Error(t, err, "trial numbers cannot be rewritten")

	err = s.AppendObservation(sess.SessionID, 4, Observation{X: 100, Y: 2})
	assert.Error(t, err, "outcome constraint enforced by schema")
}

func TestListSessions(t *testing.T) {
	s := tempDB(t)
	_, err := s.CreateSession("a", testSpec(), []float64{1}, initialPosterior(t, "va"))
	require.NoError(t, err)
	_, err = s.CreateSession("b", testSpec(), []float64{1}, initialPosterior(t, "vb"))
	require.NoError(t, err)

	sessions, err := s.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	limited, err := s.ListSessions(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetVersionNotFound(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetVersion("nope")
	assert.Error(t, err)
}

func TestNewStoreFailsOnUnopenablePath(t *testing.T) {
	// sqlite does not create parent directories; the first pragma fails
	s, err := NewStore(filepath.Join(t.TempDir(), "missing", "test.db"))
	assert.Error(t, err)
	assert.Nil(t, s)
}
