package models

import "time"

// Component type names shared by every peer of a session.
const (
	HostileComponent = "HOSTILE.COMPONENT"
	HitFxComponent   = "HIT.FX.COMPONENT"
	ScoreComponent   = "SCORE.COMPONENT"
	ShootFxComponent = "SHOOT.FX.COMPONENT"
)

// Entity action names.
const (
	NotifyGameState   = "NOTIFY.GAME.STATE"
	NotifySpawnerPose = "NOTIFY.SPAWNER.POS"
)

type HostileType uint8

const (
	HostileDrone HostileType = iota
	HostileGhost
	HostileBat
	HostileSkull
)

// HostileTypes lists every spawnable type in declaration order.
var HostileTypes = []HostileType{HostileDrone, HostileGhost, HostileBat, HostileSkull}

func (t HostileType) String() string {
	switch t {
	case HostileDrone:
		return "drone"
	case HostileGhost:
		return "ghost"
	case HostileBat:
		return "bat"
	case HostileSkull:
		return "skull"
	default:
		return "unknown"
	}
}

// HostileSpawn is written once when a hostile is created and never updated.
// Timestamp is unix milliseconds on the spawning peer's clock.
type HostileSpawn struct {
	Speed     float32     `json:"speed"`
	TargetPos Vector3     `json:"target_pos"`
	Timestamp int64       `json:"timestamp"`
	Type      HostileType `json:"type"`
}

// SpawnedAt converts Timestamp back into a time.
func (h HostileSpawn) SpawnedAt() time.Time { return time.UnixMilli(h.Timestamp) }

// HitPulse carries the latest hit on a hostile. A nil or zero Pos means no pending hit.
type HitPulse struct {
	EntityID EntityID `json:"entity_id"`
	Pos      *Vector3 `json:"pos,omitempty"`
}

// Pending reports whether the pulse describes a real hit.
func (h HitPulse) Pending() bool { return h.Pos != nil && !h.Pos.IsZero() }

type Score struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// ShootPulse carries the latest shot of a participant. The empty pulse
// attached on join has no positions; a shot may start or end at the origin.
type ShootPulse struct {
	StartPos *Vector3 `json:"start_pos,omitempty"`
	EndPos   *Vector3 `json:"end_pos,omitempty"`
}

// Fired reports whether the pulse describes a real shot.
func (s ShootPulse) Fired() bool { return s.StartPos != nil && s.EndPos != nil }

// ComponentName reports the component type each payload is stored under.
func (HostileSpawn) ComponentName() string { return HostileComponent }
func (HitPulse) ComponentName() string     { return HitFxComponent }
func (Score) ComponentName() string        { return ScoreComponent }
func (ShootPulse) ComponentName() string   { return ShootFxComponent }
