package graph

import (
	"sort"
	"strings"
)

// collectCycles runs a depth-first walk over the directed graph spanned
// by next and returns one entry per discovered cycle, canonicalized by
// rotating the smallest ID to the front. The walk visits every node
// once, so overlapping cycles beyond the first back edge per path may
// go unreported; callers use this for surfacing problems, not for
// exhaustive enumeration.
func collectCycles(ids []string, next func(id string) []string) [][]string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string
	var cycles [][]string
	seen := make(map[string]bool)

	record := func(start string) {
		at := -1
		for i, id := range path {
			if id == start {
				at = i
				break
			}
		}
		if at < 0 {
			return
		}
		cycle := canonicalCycle(path[at:])
		key := strings.Join(cycle, "\x00")
		if seen[key] {
			return
		}
		seen[key] = true
		cycles = append(cycles, cycle)
	}

	var walk func(id string)
	walk = func(id string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, target := range next(id) {
			if !visited[target] {
				walk(target)
			} else if onStack[target] {
				record(target)
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
	}

	for _, id := range ids {
		if !visited[id] {
			walk(id)
		}
	}
	return cycles
}

// canonicalCycle copies the cycle and rotates it so the smallest ID
// leads, making equal cycles comparable regardless of discovery order.
func canonicalCycle(cycle []string) []string {
	rotated := make([]string, len(cycle))
	start := 0
	for i, id := range cycle {
		if id < cycle[start] {
			start = i
		}
	}
	for i := range cycle {
		rotated[i] = cycle[(start+i)%len(cycle)]
	}
	return rotated
}

// sortCycles orders cycles for stable output, shortest first then by
// leading ID.
func sortCycles(cycles [][]string) {
	sort.Slice(cycles, func(i, j int) bool {
		if len(cycles[i]) != len(cycles[j]) {
			return len(cycles[i]) < len(cycles[j])
		}
		return strings.Join(cycles[i], "\x00") < strings.Join(cycles[j], "\x00")
	})
}
