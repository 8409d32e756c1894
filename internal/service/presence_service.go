package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/attendance"
	"rollcall/internal/logger"
	"rollcall/internal/model"
	"rollcall/internal/protocol"
)

var (
	ErrClosed          = errors.New("presence service closed")
	ErrNotStarted      = errors.New("presence service not started")
	ErrSessionNotFound = errors.New("no active session")
)

const (
	inboxSize    = 256
	outboxLimit  = 1024
	snapshotWait = 5 * time.Second
)

type stopRequest struct {
	ctx context.Context
	ack chan struct{}
}

// PresenceConfig configures one client of one room
type PresenceConfig struct {
	Room      string
	Identity  string
	Name      string
	Role      model.Role
	Authority bool // in addition to the instructor and admin roles

	TickInterval time.Duration
	OrphanWindow time.Duration
	SyncRetry    SyncRetry

	Clock func() time.Time // defaults to time.Now
}

// ObserveJoin is a join seen by this client. SessionID is minted when empty.
type ObserveJoin struct {
	Identity  string     `json:"identity" validate:"required,max=128"`
	Name      string     `json:"name" validate:"max=256"`
	Role      model.Role `json:"role" validate:"omitempty,oneof=instructor admin student guardian guest"`
	SessionID string     `json:"sessionId" validate:"max=128"`
}

// ObserveLeave is a leave seen by this client. Identity resolves to that
// identity's active session when SessionID is empty.
type ObserveLeave struct {
	SessionID string `json:"sessionId" validate:"required_without=Identity"`
	Identity  string `json:"identity" validate:"required_without=SessionID"`
}

// LeaveResult reports the outcome of a local leave
type LeaveResult struct {
	Record  model.AttendanceRecord  `json:"record"`
	Outcome attendance.LeaveOutcome `json:"-"`
	Status  string                  `json:"status"`
}

// PresenceService is the attendance client for one room. A single goroutine
// owns the ledger; API calls, bus frames and ticks are queued to it.
type PresenceService struct {
	cfg      PresenceConfig
	bus      EventBus
	store    StateStore
	codec    *protocol.Codec
	reporter *ReportService
	log      *slog.Logger

	// owned by the loop goroutine
	ledger *attendance.Ledger
	coord  *SyncCoordinator
	local  map[string]struct{} // sessions observed by this client
	outbox []protocol.Event    // local events held back until the first sync
	final  model.Snapshot      // written by teardown, read once done is closed

	sub   Subscription
	acc   *Accumulator
	cmds  chan func()
	inbox chan []byte
	ticks chan struct{}
	links chan struct{}
	stop  chan stopRequest

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

// NewPresenceService wires a client; call Start before use
func NewPresenceService(cfg PresenceConfig, bus EventBus, store StateStore, reporter *ReportService) *PresenceService {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Identity
	}
	if cfg.Role.IsAuthority() {
		cfg.Authority = true
	}
	if reporter == nil {
		reporter = NewReportService(nil)
	}
	codec := protocol.NewCodec()
	s := &PresenceService{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		codec:    codec,
		reporter: reporter,
		log: logger.Component("presence").With(
			slog.String("room", cfg.Room),
			slog.String("identity", cfg.Identity)),
		ledger: attendance.NewLedger(attendance.WithOrphanWindow(cfg.OrphanWindow)),
		coord:  NewSyncCoordinator(cfg.Room, cfg.Identity, cfg.Authority, bus, codec, cfg.SyncRetry),
		local:  make(map[string]struct{}),
		cmds:   make(chan func()),
		inbox:  make(chan []byte, inboxSize),
		ticks:  make(chan struct{}, 1),
		links:  make(chan struct{}, 1),
		stop:   make(chan stopRequest),
		done:   make(chan struct{}),
	}
	s.acc = NewAccumulator(cfg.TickInterval, s.enqueueTick)
	return s
}

// Authority reports whether this client answers sync requests
func (s *PresenceService) Authority() bool { return s.cfg.Authority }

// Start restores the persisted snapshot, subscribes to the room, starts the
// accumulator and, for non-authority clients, asks for a snapshot. A bus
// that cannot be subscribed leaves the client tracking locally.
func (s *PresenceService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.store != nil {
		snap, err := s.store.Load(ctx, s.cfg.Room)
		if err != nil {
			s.log.Error("restore failed, starting empty", slog.Any("err", err))
		} else if !snap.IsEmpty() {
			s.ledger.Replace(*snap)
			s.ledger.Tick(s.now())
			s.log.Info("restored snapshot", slog.Int("records", len(snap.Records)))
		}
	}

	if s.bus != nil {
		sub, err := s.bus.Subscribe(ctx, s.cfg.Room, s.enqueueFrame)
		if err != nil {
			s.log.Warn("bus unavailable, tracking locally", slog.Any("err", err))
		} else {
			s.sub = sub
			if n, ok := sub.(ConnectNotifier); ok {
				n.OnConnect(s.enqueueLinkUp)
			}
		}
	}

	go s.loop()
	s.acc.Start()

	if !s.cfg.Authority {
		_ = s.exec(ctx, func() { s.coord.Request(ctx) })
	}
	s.log.Info("presence started", slog.Bool("authority", s.cfg.Authority))
	return nil
}

// Join records a local join and publishes it. An identity that is already
// active keeps its current session and no event is sent.
func (s *PresenceService) Join(ctx context.Context, in ObserveJoin) (model.AttendanceRecord, error) {
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	var (
		rec model.AttendanceRecord
		err error
	)
	execErr := s.exec(ctx, func() {
		var res attendance.JoinResult
		res, err = s.ledger.ApplyJoin(attendance.Join{
			Identity:  in.Identity,
			Name:      in.Name,
			Role:      in.Role,
			SessionID: in.SessionID,
		}, s.now())
		if err != nil {
			return
		}
		rec = res.Record
		if !res.Applied {
			return
		}
		s.local[rec.SessionID] = struct{}{}
		s.persist(ctx)
		s.emit(ctx, protocol.JoinEvent{Participant: rec})
	})
	if execErr != nil {
		return model.AttendanceRecord{}, execErr
	}
	return rec, err
}

// Leave records a local leave. A leave for a session this client has not
// seen yet is buffered and reported with status "buffered".
func (s *PresenceService) Leave(ctx context.Context, in ObserveLeave) (LeaveResult, error) {
	var (
		res LeaveResult
		err error
	)
	execErr := s.exec(ctx, func() {
		id := in.SessionID
		if id == "" {
			latest, ok := s.ledger.Latest(in.Identity)
			if !ok || !latest.Active {
				err = ErrSessionNotFound
				return
			}
			id = latest.SessionID
		}
		now := s.now()
		rec, outcome := s.ledger.ApplyLeave(attendance.Leave{SessionID: id, At: now}, now)
		res = LeaveResult{Record: rec, Outcome: outcome, Status: outcome.String()}
		if outcome != attendance.LeaveClosed {
			return
		}
		s.persist(ctx)
		s.emit(ctx, protocol.LeaveEvent{Participant: rec})
	})
	if execErr != nil {
		return LeaveResult{}, execErr
	}
	return res, err
}

// Snapshot returns a deep copy of the current ledger
func (s *PresenceService) Snapshot(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot
	err := s.exec(ctx, func() { snap = s.ledger.Snapshot() })
	return snap, err
}

// Status describes this client
func (s *PresenceService) Status(ctx context.Context) (model.AgentStatus, error) {
	var st model.AgentStatus
	err := s.exec(ctx, func() {
		synced, last := s.coord.Synced()
		st = model.AgentStatus{
			Room:      s.cfg.Room,
			Identity:  s.cfg.Identity,
			Authority: s.cfg.Authority,
			Synced:    synced,
			Stats:     s.ledger.Stats(),
		}
		if synced {
			st.LastSync = &last
		}
	})
	if errors.Is(err, ErrClosed) {
		st = model.AgentStatus{
			Room:      s.cfg.Room,
			Identity:  s.cfg.Identity,
			Authority: s.cfg.Authority,
			Closed:    true,
		}
		if final, ferr := s.finalSnapshot(); ferr == nil {
			st.Stats = model.AttendanceStats{Records: len(final.Records), Active: len(final.ActiveParticipants)}
		}
		return st, nil
	}
	return st, err
}

// Export writes the current attendance to w. It works after Close as long as
// the final snapshot was taken, so a torn-down room can still be exported.
func (s *PresenceService) Export(ctx context.Context, format ExportFormat, w io.Writer) error {
	snap, err := s.Snapshot(ctx)
	if errors.Is(err, ErrClosed) {
		snap, err = s.finalSnapshot()
	}
	if err != nil {
		return err
	}
	info := s.reporter.Info(s.cfg.Room, snap, s.now())
	return s.reporter.Export(w, format, info, snap)
}

// RequestSync asks the authority for its snapshot again. No-op on the authority.
func (s *PresenceService) RequestSync(ctx context.Context) error {
	return s.exec(ctx, func() { s.coord.Request(ctx) })
}

// Close tears the room down: every active session is closed at now, the
// final snapshot is persisted and leaves for locally observed sessions are
// published before the ticker and the subscription are released.
func (s *PresenceService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	started := s.started
	s.closed = true
	s.mu.Unlock()

	if !started {
		close(s.done)
		return nil
	}

	req := stopRequest{ctx: ctx, ack: make(chan struct{})}
	s.stop <- req
	<-req.ack

	s.acc.Stop()
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			s.log.Warn("unsubscribe failed", slog.Any("err", err))
		}
	}
	s.log.Info("presence closed")
	return nil
}

// Done is closed once the loop has exited
func (s *PresenceService) Done() <-chan struct{} { return s.done }

func (s *PresenceService) loop() {
	defer close(s.done)
	ctx := context.Background()
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case frame := <-s.inbox:
			s.handleFrame(ctx, frame)
		case <-s.ticks:
			s.ledger.Tick(s.now())
			s.persist(ctx)
		case <-s.links:
			s.linkUp(ctx)
		case <-s.coord.RetryC():
			s.coord.Retry(ctx)
		case req := <-s.stop:
			s.teardown(req.ctx)
			close(req.ack)
			return
		}
	}
}

func (s *PresenceService) teardown(ctx context.Context) {
	now := s.now()
	closed := s.ledger.CloseAll(now)
	s.ledger.ExpireOrphans(now)
	s.final = s.ledger.Snapshot()
	s.persist(ctx)
	// a requester that never synced still holds its joins; send them so
	// the leaves below close sessions peers know about
	for _, ev := range s.outbox {
		s.publish(ctx, ev)
	}
	s.outbox = nil
	for _, rec := range closed {
		if _, ok := s.local[rec.SessionID]; ok {
			s.publish(ctx, protocol.LeaveEvent{Participant: rec})
		}
	}
	s.coord.Stop()
	s.log.Info("room torn down", slog.Int("closed", len(closed)), slog.Int("records", len(s.final.Records)))
}

func (s *PresenceService) handleFrame(ctx context.Context, frame []byte) {
	ev, err := s.codec.Decode(frame)
	if err != nil {
		s.log.Warn("dropping frame", slog.Any("err", err))
		return
	}
	now := s.now()

	switch e := ev.(type) {
	case protocol.JoinEvent:
		if s.applyRemoteJoin(e.Participant, now) {
			s.persist(ctx)
		}
	case protocol.LeaveEvent:
		if s.applyRemoteLeave(e.Participant, now) {
			s.persist(ctx)
		}
	case protocol.SyncRequest:
		s.coord.Answer(ctx, e, s.ledger.Snapshot())
	case protocol.SyncData:
		if !s.coord.Accept(now) {
			return
		}
		s.ledger.Replace(e.Snapshot)
		s.log.Info("adopted authority snapshot",
			slog.Int("records", len(e.Snapshot.Records)),
			slog.Int("active", len(e.Snapshot.ActiveParticipants)))
		s.flushOutbox(ctx, now)
		s.persist(ctx)
	}
}

// applyRemoteJoin uses the sender's joinTime
func (s *PresenceService) applyRemoteJoin(p model.AttendanceRecord, now time.Time) bool {
	res, err := s.ledger.ApplyJoin(attendance.Join{
		Identity:  p.Identity,
		Name:      p.Name,
		Role:      p.Role,
		SessionID: p.SessionID,
		At:        p.JoinTime,
	}, now)
	if err != nil {
		s.log.Warn("rejecting join", slog.String("session", p.SessionID), slog.Any("err", err))
		return false
	}
	return res.Applied
}

// applyRemoteLeave uses the sender's leaveTime, falling back to now
func (s *PresenceService) applyRemoteLeave(p model.AttendanceRecord, now time.Time) bool {
	lv := attendance.Leave{SessionID: p.SessionID, At: now}
	if p.LeaveTime != nil {
		lv.At = *p.LeaveTime
	}
	_, outcome := s.ledger.ApplyLeave(lv, now)
	if outcome == attendance.LeaveBuffered {
		s.log.Debug("leave before join, buffered", slog.String("session", p.SessionID))
	}
	return outcome == attendance.LeaveClosed
}

// emit publishes a local event, or holds it while a requester is still
// waiting for its first snapshot
func (s *PresenceService) emit(ctx context.Context, ev protocol.Event) {
	if synced, _ := s.coord.Synced(); s.cfg.Authority || synced {
		s.publish(ctx, ev)
		return
	}
	if len(s.outbox) >= outboxLimit {
		s.log.Warn("outbox full, dropping oldest event")
		s.outbox = s.outbox[1:]
	}
	s.outbox = append(s.outbox, ev)
}

// flushOutbox re-applies held local events on top of the adopted snapshot
// and publishes them
func (s *PresenceService) flushOutbox(ctx context.Context, now time.Time) {
	pending := s.outbox
	s.outbox = nil
	for _, ev := range pending {
		switch e := ev.(type) {
		case protocol.JoinEvent:
			s.applyRemoteJoin(e.Participant, now)
		case protocol.LeaveEvent:
			s.applyRemoteLeave(e.Participant, now)
		}
		s.publish(ctx, ev)
	}
	if len(pending) > 0 {
		s.log.Info("published held events", slog.Int("events", len(pending)))
	}
}

func (s *PresenceService) publish(ctx context.Context, ev protocol.Event) {
	if s.bus == nil {
		return
	}
	frame, err := s.codec.Encode(ev)
	if err != nil {
		s.log.Error("encode failed", slog.String("event", string(ev.Kind())), slog.Any("err", err))
		return
	}
	if err := s.bus.Publish(ctx, s.cfg.Room, frame); err != nil {
		s.log.Warn("publish failed", slog.String("event", string(ev.Kind())), slog.Any("err", err))
	}
}

func (s *PresenceService) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, s.cfg.Room, s.ledger.Snapshot()); err != nil {
		s.log.Error("persist failed", slog.Any("err", err))
	}
}

// exec runs fn on the loop goroutine and waits for it
func (s *PresenceService) exec(ctx context.Context, fn func()) error {
	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		// the loop may have finished fn right before exiting
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (s *PresenceService) finalSnapshot() (model.Snapshot, error) {
	select {
	case <-s.done:
	case <-time.After(snapshotWait):
		return model.Snapshot{}, ErrClosed
	}
	if s.final.Records == nil {
		return model.Snapshot{}, ErrClosed
	}
	return s.final, nil
}

func (s *PresenceService) enqueueFrame(frame []byte) {
	select {
	case s.inbox <- frame:
	default:
		s.log.Warn("inbox full, dropping frame")
	}
}

// linkUp re-sends sync_request when the bus link comes back before this
// requester ever got sync_data; the first request may have been lost.
func (s *PresenceService) linkUp(ctx context.Context) {
	if s.cfg.Authority {
		return
	}
	if synced, _ := s.coord.Synced(); synced {
		return
	}
	s.log.Info("bus link up, requesting sync")
	s.coord.Request(ctx)
}

func (s *PresenceService) enqueueLinkUp() {
	select {
	case s.links <- struct{}{}:
	default:
	}
}

func (s *PresenceService) enqueueTick() {
	select {
	case s.ticks <- struct{}{}:
	default:
	}
}

func (s *PresenceService) now() time.Time {
	return s.cfg.Clock()
}
