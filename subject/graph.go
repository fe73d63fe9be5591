package subject

import (
	"strings"
)

// Dependency is one parsed entry of a production's needs list. Target names
// another production in the same subject. Spec, when present, is a label
// specification that gates readiness on the target's current labels rather
// than on its completion; label truth can change every cycle, so spec
// dependencies never become structural graph edges.
type Dependency struct {
	Target string
	Spec   string
}

// ParseDependency splits a dependency entry of the form "Name" or
// "Name[labelspec]".
func ParseDependency(entry string) Dependency {
	entry = strings.TrimSpace(entry)
	open := strings.Index(entry, "[")
	if open > 0 && strings.HasSuffix(entry, "]") {
		return Dependency{
			Target: strings.TrimSpace(entry[:open]),
			Spec:   strings.TrimSpace(entry[open+1 : len(entry)-1]),
		}
	}
	return Dependency{Target: entry}
}

// Graph is the dependency DAG over a subject's productions. Edges run from a
// dependency to its dependents. The graph is derived state: it is rebuilt
// from the current needs lists on every query, because label-based
// dependencies can change as labels change at runtime.
type Graph struct {
	// edges maps a production name to the names that depend on it.
	edges map[string][]string
	// parents maps a production name to the names it depends on.
	parents map[string][]string
	// gates maps a production name to its label-specification dependencies.
	gates map[string][]Dependency
}

// Rebuild clears and reconstructs the graph from the subject's current
// dependency declarations. Self-dependencies are dropped silently, as are
// entries naming productions that do not exist in the subject.
func (s *Subject) Rebuild() *Graph {
	g := &Graph{
		edges:   map[string][]string{},
		parents: map[string][]string{},
		gates:   map[string][]Dependency{},
	}

	known := map[string]bool{}
	for _, p := range s.Productions {
		known[p.Name] = true
	}

	for _, p := range s.Productions {
		for _, entry := range p.Dependencies {
			dep := ParseDependency(entry)
			if dep.Target == p.Name || !known[dep.Target] {
				continue
			}
			if dep.Spec != "" {
				g.gates[p.Name] = append(g.gates[p.Name], dep)
				continue
			}
			g.edges[dep.Target] = append(g.edges[dep.Target], p.Name)
			g.parents[p.Name] = append(g.parents[p.Name], dep.Target)
		}
	}
	return g
}

// Dependencies returns the names of the productions the named production
// structurally depends on.
func (g *Graph) Dependencies(name string) []string {
	return g.parents[name]
}

// Dependents returns the names of the productions that structurally depend
// on the named production.
func (g *Graph) Dependents(name string) []string {
	return g.edges[name]
}

// IsAcyclic verifies that the structural edges form a DAG.
func (g *Graph) IsAcyclic() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return false
		case done:
			return true
		}
		state[name] = visiting
		for _, next := range g.edges[name] {
			if !visit(next) {
				return false
			}
		}
		state[name] = done
		return true
	}

	for name := range g.edges {
		if !visit(name) {
			return false
		}
	}
	return true
}

// ReadyFrontier returns the productions currently eligible to submit.
//
// The graph is rebuilt, then restricted to unfinished productions (status not
// finished or uploaded, and not waiting). A production without a needs policy
// is eligible when every structural dependency has finished and every label
// gate currently evaluates true. A production with a needs settings policy
// ignores the structural rule entirely: it is eligible once at least Minimum
// sibling productions of a different pipeline carry a truthy "interesting"
// label. Only productions already in the ready state are returned; the order
// follows the subject's production order, but callers should treat the result
// as a set.
func (s *Subject) ReadyFrontier() []*Production {
	g := s.Rebuild()

	byName := map[string]*Production{}
	unfinished := map[string]bool{}
	for _, p := range s.Productions {
		byName[p.Name] = p
		if !p.Status.Finished() && p.Status != StatusWait {
			unfinished[p.Name] = true
		}
	}

	var frontier []*Production
	for _, p := range s.Productions {
		if p.Status != StatusReady {
			continue
		}

		if p.Needs != nil && p.Needs.Condition == ConditionInteresting {
			interested := 0
			for _, sibling := range s.Productions {
				if sibling.Pipeline != p.Pipeline && sibling.Interesting() {
					interested++
				}
			}
			if interested >= p.Needs.Minimum {
				frontier = append(frontier, p)
			}
			continue
		}

		blocked := false
		for _, depName := range g.Dependencies(p.Name) {
			if unfinished[depName] {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		for _, gate := range g.gates[p.Name] {
			target := byName[gate.Target]
			if target == nil || !target.MatchesLabel(gate.Spec) {
				blocked = true
				break
			}
		}
		if !blocked {
			frontier = append(frontier, p)
		}
	}
	return frontier
}
