package models

import "math"

type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func Vec3(x, y, z float32) Vector3 { return Vector3{X: x, Y: y, Z: z} }

func (v Vector3) Add(o Vector3) Vector3      { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3      { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(s float32) Vector3    { return Vector3{v.X * s, v.Y * s, v.Z * s} }
func (v Vector3) IsZero() bool               { return v.X == 0 && v.Y == 0 && v.Z == 0 }
func (v Vector3) Distance(o Vector3) float32 { return o.Sub(v).Length() }

func (v Vector3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// MoveTowards moves v toward target by at most maxDelta and never past it.
func (v Vector3) MoveTowards(target Vector3, maxDelta float32) Vector3 {
	delta := target.Sub(v)
	dist := delta.Length()
	if dist == 0 || maxDelta >= dist {
		return target
	}
	if maxDelta <= 0 {
		return v
	}
	return v.Add(delta.Scale(maxDelta / dist))
}

type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

var IdentityRotation = Quaternion{W: 1}

type Pose struct {
	Position Vector3    `json:"position"`
	Rotation Quaternion `json:"rotation"`
}

func PoseAt(p Vector3) Pose { return Pose{Position: p, Rotation: IdentityRotation} }
