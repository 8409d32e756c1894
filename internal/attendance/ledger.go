// Package attendance holds the per-client attendance ledger and the rules that
// reconcile join and leave observations into it.
//
// A Ledger is not safe for concurrent use. It is owned by a single goroutine
// (see service.PresenceService) and every operation takes the time it should
// treat as "now" so that the rules stay deterministic.
package attendance

import (
	"errors"
	"sort"
	"time"

	"rollcall/internal/model"
)

// DefaultOrphanWindow is how long a leave without a known join is kept
const DefaultOrphanWindow = 30 * time.Second

var ErrInvalidJoin = errors.New("join requires identity and session id")

// Join is a join observation, local or remote
type Join struct {
	Identity  string
	Name      string
	Role      model.Role
	SessionID string
	At        time.Time // zero means "now"
}

// Leave is a leave observation, local or remote
type Leave struct {
	SessionID string
	At        time.Time // zero means "now"
}

// JoinResult reports what ApplyJoin did
type JoinResult struct {
	Record  model.AttendanceRecord
	Applied bool
	Closed  bool // a buffered leave closed the new session right away
}

// LeaveOutcome reports what ApplyLeave did
type LeaveOutcome int

const (
	LeaveClosed LeaveOutcome = iota
	LeaveDuplicate
	LeaveBuffered
)

func (o LeaveOutcome) String() string {
	switch o {
	case LeaveClosed:
		return "closed"
	case LeaveDuplicate:
		return "duplicate"
	case LeaveBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

type orphanLeave struct {
	leave   Leave
	arrived time.Time
}

// Ledger is the in-memory attendance view of one client for one room
type Ledger struct {
	records map[string]*model.AttendanceRecord // sessionId -> record
	active  map[string]*model.AttendanceRecord // sessionId -> active record
	latest  map[string]*model.AttendanceRecord // identity -> most recent session
	orphans map[string]orphanLeave             // sessionId -> leave seen before its join

	orphanWindow time.Duration
}

// Option configures a Ledger
type Option func(*Ledger)

// WithOrphanWindow overrides DefaultOrphanWindow
func WithOrphanWindow(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.orphanWindow = d
		}
	}
}

// NewLedger creates an empty ledger
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		records:      make(map[string]*model.AttendanceRecord),
		active:       make(map[string]*model.AttendanceRecord),
		latest:       make(map[string]*model.AttendanceRecord),
		orphans:      make(map[string]orphanLeave),
		orphanWindow: DefaultOrphanWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyJoin records a new session. Joins for a known session id and joins for an
// identity that already has an active session are no-ops.
func (l *Ledger) ApplyJoin(j Join, now time.Time) (JoinResult, error) {
	if j.Identity == "" || j.SessionID == "" {
		return JoinResult{}, ErrInvalidJoin
	}
	if rec, ok := l.records[j.SessionID]; ok {
		return JoinResult{Record: rec.Clone()}, nil
	}
	prev := l.latest[j.Identity]
	if prev != nil && prev.Active {
		return JoinResult{Record: prev.Clone()}, nil
	}

	at := j.At
	if at.IsZero() {
		at = now
	}
	rec := &model.AttendanceRecord{
		Identity:   j.Identity,
		SessionID:  j.SessionID,
		Name:       j.Name,
		Role:       j.Role,
		JoinTime:   at,
		Active:     true,
		JoinCount:  1,
		LastActive: now,
	}
	if prev != nil {
		rec.TotalDuration = prev.TotalDuration
		rec.JoinCount = prev.JoinCount + 1
	}
	l.records[rec.SessionID] = rec
	l.active[rec.SessionID] = rec
	l.latest[rec.Identity] = rec

	res := JoinResult{Applied: true}
	if o, ok := l.orphans[rec.SessionID]; ok {
		delete(l.orphans, rec.SessionID)
		if now.Sub(o.arrived) <= l.orphanWindow {
			l.close(rec, o.leave.At, now)
			res.Closed = true
		}
	}
	res.Record = rec.Clone()
	return res, nil
}

// ApplyLeave closes an active session. A leave for an unknown session is buffered
// until its join shows up or the orphan window runs out.
func (l *Ledger) ApplyLeave(lv Leave, now time.Time) (model.AttendanceRecord, LeaveOutcome) {
	rec, ok := l.records[lv.SessionID]
	if !ok {
		if _, dup := l.orphans[lv.SessionID]; !dup {
			l.orphans[lv.SessionID] = orphanLeave{leave: lv, arrived: now}
		}
		return model.AttendanceRecord{}, LeaveBuffered
	}
	if !rec.Active {
		return rec.Clone(), LeaveDuplicate
	}
	l.close(rec, lv.At, now)
	return rec.Clone(), LeaveClosed
}

// Tick refreshes the running duration of every active session and drops
// expired orphan leaves. It returns the number of sessions it touched.
func (l *Ledger) Tick(now time.Time) int {
	for _, rec := range l.active {
		elapsed := minutesBetween(rec.JoinTime, now)
		if elapsed > rec.Duration {
			base := rec.TotalDuration - rec.Duration
			rec.Duration = elapsed
			rec.TotalDuration = base + elapsed
		}
		if now.After(rec.LastActive) {
			rec.LastActive = now
		}
	}
	l.ExpireOrphans(now)
	return len(l.active)
}

// ExpireOrphans drops buffered leaves older than the orphan window
func (l *Ledger) ExpireOrphans(now time.Time) int {
	n := 0
	for id, o := range l.orphans {
		if now.Sub(o.arrived) > l.orphanWindow {
			delete(l.orphans, id)
			n++
		}
	}
	return n
}

// CloseAll force-closes every active session at now. Used on room teardown.
func (l *Ledger) CloseAll(now time.Time) []model.AttendanceRecord {
	closed := make([]model.AttendanceRecord, 0, len(l.active))
	for _, rec := range l.sorted(l.active) {
		l.close(rec, now, now)
		closed = append(closed, rec.Clone())
	}
	return closed
}

// Replace discards the ledger's records and active set and adopts s.
// Buffered orphan leaves are kept.
func (l *Ledger) Replace(s model.Snapshot) {
	l.records = make(map[string]*model.AttendanceRecord, len(s.Records))
	l.active = make(map[string]*model.AttendanceRecord)
	l.latest = make(map[string]*model.AttendanceRecord)

	add := func(r model.AttendanceRecord) {
		if r.SessionID == "" {
			return
		}
		if _, ok := l.records[r.SessionID]; ok {
			return
		}
		rec := r.Clone()
		l.records[rec.SessionID] = &rec
	}
	for _, r := range s.Records {
		add(r)
	}
	for _, r := range s.ActiveParticipants {
		add(r)
	}

	for id, rec := range l.records {
		if rec.Active {
			l.active[id] = rec
		}
		cur := l.latest[rec.Identity]
		if cur == nil || rec.JoinCount > cur.JoinCount ||
			(rec.JoinCount == cur.JoinCount && rec.JoinTime.After(cur.JoinTime)) {
			l.latest[rec.Identity] = rec
		}
	}
}

// Snapshot returns a deep copy of the ledger, ordered by join time
func (l *Ledger) Snapshot() model.Snapshot {
	s := model.Snapshot{
		Records:            make([]model.AttendanceRecord, 0, len(l.records)),
		ActiveParticipants: make([]model.AttendanceRecord, 0, len(l.active)),
	}
	for _, rec := range l.sorted(l.records) {
		s.Records = append(s.Records, rec.Clone())
	}
	for _, rec := range l.sorted(l.active) {
		s.ActiveParticipants = append(s.ActiveParticipants, rec.Clone())
	}
	return s
}

// Get returns the record for a session id
func (l *Ledger) Get(sessionID string) (model.AttendanceRecord, bool) {
	rec, ok := l.records[sessionID]
	if !ok {
		return model.AttendanceRecord{}, false
	}
	return rec.Clone(), true
}

// Latest returns the most recent session of an identity
func (l *Ledger) Latest(identity string) (model.AttendanceRecord, bool) {
	rec, ok := l.latest[identity]
	if !ok {
		return model.AttendanceRecord{}, false
	}
	return rec.Clone(), true
}

// Stats summarises the ledger
func (l *Ledger) Stats() model.AttendanceStats {
	return model.AttendanceStats{
		Records:       len(l.records),
		Active:        len(l.active),
		Identities:    len(l.latest),
		PendingLeaves: len(l.orphans),
	}
}

func (l *Ledger) close(rec *model.AttendanceRecord, at, now time.Time) {
	if at.IsZero() {
		at = now
	}
	if at.Before(rec.JoinTime) {
		at = rec.JoinTime
	}
	elapsed := minutesBetween(rec.JoinTime, at)
	if elapsed < rec.Duration {
		elapsed = rec.Duration
	}
	base := rec.TotalDuration - rec.Duration
	rec.Duration = elapsed
	rec.TotalDuration = base + elapsed
	rec.LeaveTime = &at
	rec.Active = false
	if at.After(rec.LastActive) {
		rec.LastActive = at
	}
	delete(l.active, rec.SessionID)
}

func (l *Ledger) sorted(m map[string]*model.AttendanceRecord) []*model.AttendanceRecord {
	out := make([]*model.AttendanceRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinTime.Equal(out[j].JoinTime) {
			return out[i].JoinTime.Before(out[j].JoinTime)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// minutesBetween is floor((to-from)/1m), never negative
func minutesBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
