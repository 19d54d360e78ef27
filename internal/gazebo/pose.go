/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gazebo

import (
	"fmt"
	"math"
	"strconv"
)

// Quaternion is an orientation in the engine's x/y/z/w convention.
type Quaternion struct {
	X, Y, Z, W float64
}

// Identity is the "no rotation" orientation.
var Identity = Quaternion{W: 1}

// Pose is a position plus orientation in world coordinates.
type Pose struct {
	X, Y, Z     float64
	Orientation Quaternion
}

// NewPose returns an upright pose at x, y, z.
func NewPose(x, y, z float64) Pose {
	return Pose{X: x, Y: y, Z: z, Orientation: Identity}
}

// NewYawPose returns a pose at x, y, z rotated by yaw radians about the
// vertical axis.
func NewYawPose(x, y, z, yaw float64) Pose {
	half := yaw / 2
	return Pose{X: x, Y: y, Z: z, Orientation: Quaternion{Z: math.Sin(half), W: math.Cos(half)}}
}

// text renders the pose fields in protobuf text format, as accepted by the
// --req flag of gz service.
func (p Pose) text() string {
	return fmt.Sprintf("position: {x: %s, y: %s, z: %s}, orientation: {x: %s, y: %s, z: %s, w: %s}",
		num(p.X), num(p.Y), num(p.Z),
		num(p.Orientation.X), num(p.Orientation.Y), num(p.Orientation.Z), num(p.Orientation.W))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
