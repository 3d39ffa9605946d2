package dmn

import (
	"fmt"
	"sort"
)

// Schedule orders decisions by dependency using Kahn's algorithm (spec.md
// §4.3). Decisions with zero dependency count are queued first, in
// document order; a missing dependency ID is treated as independent and
// reported in Warnings. If a cycle prevents every decision from being
// emitted, Order falls back to the document's declared order and
// CycleWarning explains why.
func Schedule(decisions []*RawDecision) (order []string, cycleWarning string, warnings []string) {
	declaredOrder := make([]string, len(decisions))
	byID := make(map[string]*RawDecision, len(decisions))
	for i, d := range decisions {
		declaredOrder[i] = d.ID
		byID[d.ID] = d
	}

	indegree := make(map[string]int, len(decisions))
	dependents := make(map[string][]string)

	for _, d := range decisions {
		count := 0
		for _, dep := range d.Dependencies {
			if _, known := byID[dep]; !known {
				warnings = append(warnings, fmt.Sprintf("decision %s depends on unknown decision %q, treated as independent", d.ID, dep))
				continue
			}
			count++
			dependents[dep] = append(dependents[dep], d.ID)
		}
		indegree[d.ID] = count
	}

	var queue []string
	for _, id := range declaredOrder {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var emitted []string
	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool {
			return indexOf(declaredOrder, queue[i]) < indexOf(declaredOrder, queue[j])
		})
		next := queue[0]
		queue = queue[1:]
		emitted = append(emitted, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(emitted) != len(decisions) {
		remaining := make([]string, 0)
		emittedSet := make(map[string]bool, len(emitted))
		for _, id := range emitted {
			emittedSet[id] = true
		}
		for _, id := range declaredOrder {
			if !emittedSet[id] {
				remaining = append(remaining, id)
			}
		}
		cycleWarning = fmt.Sprintf("dependency cycle detected among decisions %v; falling back to declared order", remaining)
		return declaredOrder, cycleWarning, warnings
	}

	return emitted, "", warnings
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
