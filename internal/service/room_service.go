package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"rollcall/internal/cache"
	"rollcall/internal/logger"
	"rollcall/internal/model"
)

var (
	ErrRoomEnded       = errors.New("room has ended")
	ErrInvalidRoomCode = errors.New("invalid room code")
)

var roomCodeRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// RoomDisconnector drops every relay connection of a room
// (implemented by the ws hub; kept here to avoid an import cycle)
type RoomDisconnector interface {
	DisconnectRoom(roomCode string)
}

// RoomService manages the relay's room registry and hands out relay tokens
type RoomService struct {
	roomCache cache.RoomCache
	authSvc   *AuthService
	relay     RoomDisconnector
	log       *slog.Logger
	now       func() time.Time
}

// NewRoomService creates a new room service
func NewRoomService(roomCache cache.RoomCache, authSvc *AuthService) *RoomService {
	return &RoomService{
		roomCache: roomCache,
		authSvc:   authSvc,
		log:       logger.Component("rooms"),
		now:       time.Now,
	}
}

// SetRelay sets the hub whose connections are dropped when a room ends
func (s *RoomService) SetRelay(r RoomDisconnector) {
	s.relay = r
}

// RegisterAuthority opens (or re-opens) a room with the given identity as
// its authority and returns that identity's relay token
func (s *RoomService) RegisterAuthority(ctx context.Context, code, hostID string, req model.RoomJoinRequest) (*model.RoomJoinResponse, error) {
	if !roomCodeRe.MatchString(code) {
		return nil, ErrInvalidRoomCode
	}

	meta, err := s.roomCache.GetMeta(ctx, code)
	switch {
	case errors.Is(err, cache.ErrRoomNotFound):
		meta = &model.RoomMeta{
			Code:      code,
			HostID:    hostID,
			Status:    model.RoomLive,
			CreatedAt: s.now().UTC(),
		}
	case err != nil:
		return nil, fmt.Errorf("failed to get room: %w", err)
	case meta.Status == model.RoomEnded:
		return nil, ErrRoomEnded
	}

	if meta.AuthorityID != "" && meta.AuthorityID != req.Identity {
		s.log.Info("authority replaced",
			slog.String("room", code),
			slog.String("previous", meta.AuthorityID),
			slog.String("authority", req.Identity))
	}
	meta.AuthorityID = req.Identity
	meta.HostID = hostID
	if err := s.roomCache.SetMeta(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to cache room: %w", err)
	}

	role := req.Role
	if role == "" {
		role = model.RoleInstructor
	}
	token, err := s.authSvc.GenerateRelayToken(code, req.Identity, role, true)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &model.RoomJoinResponse{Token: token, RoomCode: code, Authority: true, RoomMeta: meta}, nil
}

// JoinRoom returns a requester relay token for a live room
func (s *RoomService) JoinRoom(ctx context.Context, code string, req model.RoomJoinRequest) (*model.RoomJoinResponse, error) {
	meta, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if meta.Status == model.RoomEnded {
		return nil, ErrRoomEnded
	}

	role := req.Role
	if role == "" {
		role = model.RoleStudent
	}
	token, err := s.authSvc.GenerateRelayToken(code, req.Identity, role, false)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &model.RoomJoinResponse{Token: token, RoomCode: code, Authority: false, RoomMeta: meta}, nil
}

// GetRoom returns the registry entry or cache.ErrRoomNotFound
func (s *RoomService) GetRoom(ctx context.Context, code string) (*model.RoomMeta, error) {
	if !roomCodeRe.MatchString(code) {
		return nil, ErrInvalidRoomCode
	}
	return s.roomCache.GetMeta(ctx, code)
}

// EndRoom marks the room ended and drops its relay connections
func (s *RoomService) EndRoom(ctx context.Context, code string) (*model.RoomMeta, error) {
	if !roomCodeRe.MatchString(code) {
		return nil, ErrInvalidRoomCode
	}
	meta, err := s.roomCache.End(ctx, code, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if s.relay != nil {
		s.relay.DisconnectRoom(code)
	}
	s.log.Info("room ended", slog.String("room", code))
	return meta, nil
}
