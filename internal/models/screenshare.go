package models

import (
	"time"

	"github.com/google/uuid"
)

// GrantMode says whether a screen-share grant targets one connection or every
// current (and future) participant.
type GrantMode string

const (
	GrantModeSingle GrantMode = "single"
	GrantModeAll    GrantMode = "all"
)

// ScreenShareGrant authorizes publishing a screen-share track. The target is
// the media transport's ephemeral per-connection identity, not a stable user
// id: a grant whose target has disconnected is inert, never invalid.
// Revocation is a timestamp rather than a delete so the session's grant
// history stays reconstructable.
type ScreenShareGrant struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	Mode            GrantMode  `json:"mode"`
	TargetIdentity  *string    `json:"target_identity,omitempty"`
	TargetName      string     `json:"target_name,omitempty"`
	GranterIdentity string     `json:"granter_identity"`
	GranterRole     Role       `json:"granter_role"`
	GrantedAt       time.Time  `json:"granted_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the grant has not been revoked.
func (g ScreenShareGrant) Active() bool { return g.RevokedAt == nil }
