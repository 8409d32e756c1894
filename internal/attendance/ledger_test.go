package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func alice(session string, at time.Time) Join {
	return Join{Identity: "alice", Name: "Alice", Role: model.RoleStudent, SessionID: session, At: at}
}

func TestApplyJoin_DuplicateIsNoop(t *testing.T) {
	l := NewLedger()

	res, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	res, err = l.ApplyJoin(alice("s1", t0.Add(time.Second)), t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	snap := l.Snapshot()
	require.Len(t, snap.Records, 1)
	assert.Equal(t, 1, snap.Records[0].JoinCount)
	assert.Equal(t, t0, snap.Records[0].JoinTime)
	assert.Len(t, snap.ActiveParticipants, 1)
}

func TestApplyJoin_FirstJoinWinsForActiveIdentity(t *testing.T) {
	l := NewLedger()

	_, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)
	res, err := l.ApplyJoin(alice("s2", t0.Add(time.Minute)), t0.Add(time.Minute))
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Equal(t, "s1", res.Record.SessionID)
	_, ok := l.Get("s2")
	assert.False(t, ok)
}

func TestApplyJoin_RemoteJoinStampsLastActiveWithReceiptTime(t *testing.T) {
	l := NewLedger()
	sent := t0.Add(-90 * time.Second)

	res, err := l.ApplyJoin(alice("s1", sent), t0)
	require.NoError(t, err)
	assert.Equal(t, sent, res.Record.JoinTime)
	assert.Equal(t, t0, res.Record.LastActive)
}

func TestApplyJoin_RequiresIdentityAndSession(t *testing.T) {
	l := NewLedger()

	_, err := l.ApplyJoin(Join{SessionID: "s1"}, t0)
	assert.ErrorIs(t, err, ErrInvalidJoin)
	_, err = l.ApplyJoin(Join{Identity: "alice"}, t0)
	assert.ErrorIs(t, err, ErrInvalidJoin)
}

func TestApplyLeave_DurationAccounting(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)

	rec, outcome := l.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(5 * time.Minute)}, t0.Add(5*time.Minute))

	assert.Equal(t, LeaveClosed, outcome)
	assert.False(t, rec.Active)
	assert.Equal(t, 5, rec.Duration)
	assert.Equal(t, 5, rec.TotalDuration)
	assert.Equal(t, 1, rec.JoinCount)
	require.NotNil(t, rec.LeaveTime)
	assert.Equal(t, t0.Add(5*time.Minute), *rec.LeaveTime)
	assert.Empty(t, l.Snapshot().ActiveParticipants)
}

func TestApplyLeave_FloorsPartialMinutes(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)

	rec, _ := l.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(4*time.Minute + 59*time.Second)}, t0)
	assert.Equal(t, 4, rec.Duration)
}

func TestApplyLeave_DuplicateKeepsFrozenValues(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)
	l.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(5 * time.Minute)}, t0.Add(5*time.Minute))

	rec, outcome := l.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(9 * time.Minute)}, t0.Add(9*time.Minute))

	assert.Equal(t, LeaveDuplicate, outcome)
	assert.Equal(t, 5, rec.Duration)
	assert.Equal(t, 5, rec.TotalDuration)
}

func TestRejoin_AccumulatesHistory(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)
	l.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(5 * time.Minute)}, t0.Add(5*time.Minute))

	_, err = l.ApplyJoin(alice("s2", t0.Add(10*time.Minute)), t0.Add(10*time.Minute))
	require.NoError(t, err)
	rec, outcome := l.ApplyLeave(Leave{SessionID: "s2", At: t0.Add(13 * time.Minute)}, t0.Add(13*time.Minute))

	assert.Equal(t, LeaveClosed, outcome)
	assert.Equal(t, 3, rec.Duration)
	assert.Equal(t, 8, rec.TotalDuration)
	assert.Equal(t, 2, rec.JoinCount)

	s1, ok := l.Get("s1")
	require.True(t, ok)
	assert.False(t, s1.Active)
	assert.Equal(t, 5, s1.Duration)
	assert.Equal(t, 5, s1.TotalDuration)
	assert.Equal(t, 1, s1.JoinCount)
}

func TestTick_TracksLiveSession(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)
	l.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(5 * time.Minute)}, t0.Add(5*time.Minute))
	_, err = l.ApplyJoin(alice("s2", t0.Add(10*time.Minute)), t0.Add(10*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, l.Tick(t0.Add(12*time.Minute+30*time.Second)))

	rec, _ := l.Get("s2")
	assert.Equal(t, 2, rec.Duration)
	assert.Equal(t, 7, rec.TotalDuration)
	assert.Equal(t, t0.Add(12*time.Minute+30*time.Second), rec.LastActive)

	// the leave after ticks must not count the live minutes twice
	rec, _ = l.ApplyLeave(Leave{SessionID: "s2", At: t0.Add(13 * time.Minute)}, t0.Add(13*time.Minute))
	assert.Equal(t, 3, rec.Duration)
	assert.Equal(t, 8, rec.TotalDuration)
}

func TestTick_ClockStepBackDoesNotLowerFigures(t *testing.T) {
	l := NewLedger()
	_, err := l.ApplyJoin(alice("s1", t0), t0)
	require.NoError(t, err)

	l.Tick(t0.Add(6 * time.Minute))
	l.Tick(t0.Add(2 * time.Minute))

	rec, _ := l.Get("s1")
	assert.Equal(t, 6, rec.Duration)
	assert.Equal(t, 6, rec.TotalDuration)
}

func TestMonotonicity_AcrossMixedSequence(t *testing.T) {
	l := NewLedger()
	type step func(now time.Time)
	steps := []step{
		func(now time.Time) { _, _ = l.ApplyJoin(alice("s1", now), now) },
		func(now time.Time) { l.Tick(now) },
		func(now time.Time) { _, _ = l.ApplyJoin(alice("s1", now), now) },
		func(now time.Time) { l.ApplyLeave(Leave{SessionID: "s1", At: now}, now) },
		func(now time.Time) { l.ApplyLeave(Leave{SessionID: "s1", At: now}, now) },
		func(now time.Time) { l.Tick(now) },
		func(now time.Time) { _, _ = l.ApplyJoin(alice("s2", now), now) },
		func(now time.Time) { l.Tick(now) },
		func(now time.Time) { l.Tick(now) },
		func(now time.Time) { _, _ = l.ApplyJoin(alice("s3", now), now) },
		func(now time.Time) { l.ApplyLeave(Leave{SessionID: "s2", At: now}, now) },
		func(now time.Time) { _, _ = l.ApplyJoin(alice("s3", now), now) },
		func(now time.Time) { l.Tick(now) },
	}

	lastTotal, lastCount := 0, 0
	now := t0
	for i, s := range steps {
		now = now.Add(150 * time.Second)
		s(now)
		rec, ok := l.Latest("alice")
		require.True(t, ok, "step %d", i)
		assert.GreaterOrEqual(t, rec.TotalDuration, lastTotal, "step %d", i)
		assert.GreaterOrEqual(t, rec.JoinCount, lastCount, "step %d", i)
		lastTotal, lastCount = rec.TotalDuration, rec.JoinCount
	}
	assert.Equal(t, 3, lastCount)
}

func TestOrphanLeave_AppliedWhenJoinArrivesInWindow(t *testing.T) {
	l := NewLedger()

	_, outcome := l.ApplyLeave(Leave{SessionID: "s9", At: t0.Add(4 * time.Minute)}, t0.Add(4*time.Minute))
	assert.Equal(t, LeaveBuffered, outcome)
	assert.Equal(t, 1, l.Stats().PendingLeaves)
	_, ok := l.Get("s9")
	assert.False(t, ok)

	res, err := l.ApplyJoin(Join{Identity: "bob", SessionID: "s9", At: t0}, t0.Add(4*time.Minute+10*time.Second))
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.True(t, res.Closed)
	assert.False(t, res.Record.Active)
	assert.Equal(t, 4, res.Record.Duration)
	assert.Equal(t, 4, res.Record.TotalDuration)
	assert.Equal(t, 0, l.Stats().PendingLeaves)
	assert.Empty(t, l.Snapshot().ActiveParticipants)
}

func TestOrphanLeave_DiscardedAfterWindow(t *testing.T) {
	l := NewLedger()

	l.ApplyLeave(Leave{SessionID: "s9", At: t0}, t0)
	assert.Equal(t, 1, l.ExpireOrphans(t0.Add(31*time.Second)))
	assert.Equal(t, 0, l.Stats().PendingLeaves)
	_, ok := l.Get("s9")
	assert.False(t, ok)
	assert.Empty(t, l.Snapshot().Records)
}

func TestOrphanLeave_LateJoinStaysActive(t *testing.T) {
	l := NewLedger(WithOrphanWindow(10 * time.Second))

	l.ApplyLeave(Leave{SessionID: "s9", At: t0}, t0)
	res, err := l.ApplyJoin(Join{Identity: "bob", SessionID: "s9", At: t0}, t0.Add(11*time.Second))
	require.NoError(t, err)

	assert.False(t, res.Closed)
	assert.True(t, res.Record.Active)
	assert.Equal(t, 0, l.Stats().PendingLeaves)
}

func TestCloseAll_TeardownFinalization(t *testing.T) {
	tend := t0.Add(time.Hour)
	l := NewLedger()
	_, err := l.ApplyJoin(alice("s1", tend.Add(-7*time.Minute)), tend.Add(-7*time.Minute))
	require.NoError(t, err)
	_, err = l.ApplyJoin(Join{Identity: "bob", SessionID: "s2", At: tend.Add(-20 * time.Minute)}, tend)
	require.NoError(t, err)
	l.ApplyLeave(Leave{SessionID: "s2", At: tend.Add(-10 * time.Minute)}, tend)

	closed := l.CloseAll(tend)

	require.Len(t, closed, 1)
	assert.Equal(t, "s1", closed[0].SessionID)
	assert.False(t, closed[0].Active)
	assert.Equal(t, 7, closed[0].Duration)
	require.NotNil(t, closed[0].LeaveTime)
	assert.Equal(t, tend, *closed[0].LeaveTime)
	assert.Empty(t, l.Snapshot().ActiveParticipants)

	bob, _ := l.Get("s2")
	assert.Equal(t, 10, bob.Duration)
}

func TestReplace_AdoptsSnapshotWholesale(t *testing.T) {
	authority := NewLedger()
	_, _ = authority.ApplyJoin(alice("s1", t0), t0)
	authority.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(5 * time.Minute)}, t0)
	_, _ = authority.ApplyJoin(alice("s2", t0.Add(10*time.Minute)), t0)
	_, _ = authority.ApplyJoin(Join{Identity: "bob", SessionID: "s3", At: t0}, t0)

	requester := NewLedger()
	_, _ = requester.ApplyJoin(Join{Identity: "carol", SessionID: "local-1", At: t0}, t0)

	requester.Replace(authority.Snapshot())

	assert.Equal(t, authority.Snapshot(), requester.Snapshot())
	_, ok := requester.Get("local-1")
	assert.False(t, ok)

	// carried history survives the replace
	latest, ok := requester.Latest("alice")
	require.True(t, ok)
	assert.Equal(t, "s2", latest.SessionID)
	res, err := requester.ApplyJoin(alice("s2", t0), t0)
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestReplace_ActiveParticipantsOnlyInActiveList(t *testing.T) {
	l := NewLedger()
	rec := model.AttendanceRecord{Identity: "dan", SessionID: "s4", JoinTime: t0, Active: true, JoinCount: 1}

	l.Replace(model.Snapshot{ActiveParticipants: []model.AttendanceRecord{rec}})

	snap := l.Snapshot()
	assert.Len(t, snap.Records, 1)
	assert.Len(t, snap.ActiveParticipants, 1)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	l := NewLedger()
	_, _ = l.ApplyJoin(alice("s1", t0), t0)
	l.ApplyLeave(Leave{SessionID: "s1", At: t0.Add(time.Minute)}, t0)

	snap := l.Snapshot()
	*snap.Records[0].LeaveTime = t0.Add(time.Hour)
	snap.Records[0].Duration = 99

	rec, _ := l.Get("s1")
	assert.Equal(t, t0.Add(time.Minute), *rec.LeaveTime)
	assert.Equal(t, 1, rec.Duration)
}
