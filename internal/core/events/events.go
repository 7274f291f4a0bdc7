// Package events names the events the replication layer publishes on the bus
// and defines their payloads.
package events

import (
	"github.com/zeusync/arsync/internal/core/models"
)

// Event types.
const (
	SpawnIntentType        = "hostile.spawn_intent"
	DestroyIntentType      = "hostile.destroy_intent"
	HitPulseObservedType   = "hostile.hit_pulse"
	ScoreChangedType       = "participant.score_changed"
	ShootPulseObservedType = "participant.shoot_pulse"
	ParticipantLeftType    = "participant.left"
	GameStartedType        = "game.started"
	GameOverType           = "game.over"
	SpawnerMovedType       = "game.spawner_moved"
)

// SpawnIntent asks presentation to instantiate a hostile. StartPos is already
// advanced by Elapsed seconds of travel toward TargetPos.
type SpawnIntent struct {
	EntityID  models.EntityID
	Origin    models.Vector3
	StartPos  models.Vector3
	TargetPos models.Vector3
	Speed     float32
	Type      models.HostileType
	Timestamp int64
	Elapsed   float32
}

type DestroyIntent struct {
	EntityID models.EntityID
}

type HitPulseObserved struct {
	EntityID models.EntityID
	Pos      models.Vector3
}

type ScoreChanged struct {
	EntityID models.EntityID
	Name     string
	Score    int
}

type ShootPulseObserved struct {
	EntityID models.EntityID
	StartPos models.Vector3
	EndPos   models.Vector3
}

// ParticipantLeft is published when a participant's score component is removed.
type ParticipantLeft struct {
	EntityID models.EntityID
}

type GameStarted struct {
	Requester models.ParticipantID
}

type GameOver struct {
	Requester models.ParticipantID
}

type SpawnerMoved struct {
	Pose models.Pose
}
