package city

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/signalsfoundry/leaf-simulator/core"
)

// StreetGrid is the city's street network: a square lattice of
// streetsPerAxis+2 points per axis. Border points are gates where taxis
// enter and leave (the four corners are not part of the city), inner points
// are crossings with a traffic light. Streets run along the inner rows and
// columns, so every gate connects to exactly one crossing.
type StreetGrid struct {
	g      *simple.WeightedUndirectedGraph
	points map[int64]core.Location
	ids    map[core.Location]int64
	gates  []core.Location
	lights []core.Location

	trees map[int64]path.Shortest
}

// NewStreetGrid lays out a width x height grid.
func NewStreetGrid(width, height float64, streetsPerAxis int) *StreetGrid {
	n := streetsPerAxis + 2
	stepX := width / float64(n-1)
	stepY := height / float64(n-1)
	s := &StreetGrid{
		g:      simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		points: make(map[int64]core.Location),
		ids:    make(map[core.Location]int64),
		trees:  make(map[int64]path.Shortest),
	}

	corner := func(x, y int) bool { return (x == 0 || x == n-1) && (y == 0 || y == n-1) }
	id := func(x, y int) int64 { return int64(x*n + y) }

	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			if corner(x, y) {
				continue
			}
			loc := core.Location{X: float64(x) * stepX, Y: float64(y) * stepY}
			s.g.AddNode(simple.Node(id(x, y)))
			s.points[id(x, y)] = loc
			s.ids[loc] = id(x, y)
			if x == 0 || x == n-1 || y == 0 || y == n-1 {
				s.gates = append(s.gates, loc)
			} else {
				s.lights = append(s.lights, loc)
			}
		}
	}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			if corner(x, y) {
				continue
			}
			// Horizontal streets on inner rows, vertical streets on inner columns.
			if x > 0 && y > 0 && y < n-1 {
				s.street(id(x-1, y), id(x, y))
			}
			if y > 0 && x > 0 && x < n-1 {
				s.street(id(x, y-1), id(x, y))
			}
		}
	}
	return s
}

func (s *StreetGrid) street(a, b int64) {
	w := s.points[a].DistanceTo(s.points[b])
	s.g.SetWeightedEdge(s.g.NewWeightedEdge(simple.Node(a), simple.Node(b), w))
}

// Gates returns the entry and exit points in grid order.
func (s *StreetGrid) Gates() []core.Location { return s.gates }

// TrafficLights returns the crossing locations in grid order.
func (s *StreetGrid) TrafficLights() []core.Location { return s.lights }

// Streets returns the number of street segments.
func (s *StreetGrid) Streets() int { return s.g.Edges().Len() }

// Route is a street path between two points.
type Route struct {
	Points []core.Location
	Length float64
}

// Interior returns the route's points without its endpoints.
func (r Route) Interior() []core.Location {
	if len(r.Points) <= 2 {
		return nil
	}
	return r.Points[1 : len(r.Points)-1]
}

// Route returns the shortest street path from one grid point to another.
// Shortest-path trees are cached per origin.
func (s *StreetGrid) Route(from, to core.Location) (Route, error) {
	src, ok := s.ids[from]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s is not a street point", core.ErrBadInput, from)
	}
	dst, ok := s.ids[to]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s is not a street point", core.ErrBadInput, to)
	}
	tree, ok := s.trees[src]
	if !ok {
		tree = path.DijkstraFrom(simple.Node(src), s.g)
		s.trees[src] = tree
	}
	nodes, length := tree.To(dst)
	if len(nodes) == 0 || math.IsInf(length, 1) {
		return Route{}, fmt.Errorf("%w: %s to %s", core.ErrNoPath, from, to)
	}
	r := Route{Points: make([]core.Location, len(nodes)), Length: length}
	for i, n := range nodes {
		r.Points[i] = s.points[n.ID()]
	}
	return r, nil
}
