// Package opt implements the stop-ordering heuristics used by route
// optimization.
package opt

import (
	"math"

	"fleetvision/internal/geo"
)

// StopNode holds minimal info for routing heuristics
type StopNode struct {
	Lat float64
	Lng float64
}

// NearestNeighbor orders nodes greedily: the first node of the input is the
// fixed starting point, and each step visits the closest remaining node.
// Ties go to the first minimum encountered in input order, which keeps the
// result deterministic (though not globally optimal). Returns the visiting
// order as indexes into nodes and the total distance in km rounded to two
// decimals.
func NearestNeighbor(nodes []StopNode) ([]int, float64) {
	n := len(nodes)
	if n == 0 {
		return nil, 0
	}
	order := make([]int, 0, n)
	visited := make([]bool, n)

	cur := 0
	order = append(order, cur)
	visited[cur] = true
	total := 0.0

	for len(order) < n {
		next := -1
		minDist := math.Inf(1)
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			d := geo.DistanceKm(nodes[cur].Lat, nodes[cur].Lng, nodes[i].Lat, nodes[i].Lng)
			if d < minDist {
				minDist = d
				next = i
			}
		}
		total += minDist
		order = append(order, next)
		visited[next] = true
		cur = next
	}
	return order, RoundKm(total)
}

// RoundKm rounds a distance to two decimal places for persistence and
// API responses.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// PathDistanceKm sums consecutive haversine distances over nodes in the
// given order. Used by tests and sanity checks against NearestNeighbor totals.
func PathDistanceKm(nodes []StopNode, order []int) float64 {
	total := 0.0
	for i := 0; i < len(order)-1; i++ {
		a := nodes[order[i]]
		b := nodes[order[i+1]]
		total += geo.DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng)
	}
	return total
}
