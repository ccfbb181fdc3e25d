package core

import "time"

// MotionModel yields a node's position for a given simulation time.
type MotionModel interface {
	PositionAt(simTime time.Duration) Location
}

// StaticMotion pins a node to one location.
type StaticMotion struct {
	At Location
}

func (m StaticMotion) PositionAt(time.Duration) Location { return m.At }

// MotionFunc adapts a function to MotionModel.
type MotionFunc func(simTime time.Duration) Location

func (f MotionFunc) PositionAt(simTime time.Duration) Location { return f(simTime) }
