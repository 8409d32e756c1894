package model

import "github.com/golang-jwt/jwt/v5"

// HostClaims are JWT claims for host authentication
type HostClaims struct {
	HostID string `json:"hostId"`
	jwt.RegisteredClaims
}

// RelayClaims are JWT claims for room-scoped relay connections
type RelayClaims struct {
	RoomCode  string `json:"roomCode"`
	Identity  string `json:"identity"`
	Role      Role   `json:"role"`
	Authority bool   `json:"authority"`
	jwt.RegisteredClaims
}

// LoginRequest is the request body for host login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned after successful login
type LoginResponse struct {
	Token  string `json:"token"`
	HostID string `json:"hostId"`
}

// RoomJoinRequest is the request body for obtaining a relay token
type RoomJoinRequest struct {
	Identity string `json:"identity" validate:"required,max=128"`
	Name     string `json:"name" validate:"max=256"`
	Role     Role   `json:"role" validate:"omitempty,oneof=instructor admin student guardian guest"`
}

// RoomJoinResponse carries the relay token for a room
type RoomJoinResponse struct {
	Token     string    `json:"token"`
	RoomCode  string    `json:"roomCode"`
	Authority bool      `json:"authority"`
	RoomMeta  *RoomMeta `json:"roomMeta"`
}
