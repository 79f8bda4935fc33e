// resolver.go: batch dependency diagnosis and load ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"sync"
)

// IssueType classifies a diagnosis issue.
type IssueType string

const (
	IssueMissingDependency  IssueType = "missing-dependency"
	IssueCircularDependency IssueType = "circular-dependency"
)

// Issue explains why a plugin was left out of the load order.
//
// For missing dependencies Details holds the unmet names; for cycles it holds
// the loop with its first node repeated at the end, e.g. [A B C A].
type Issue struct {
	Plugin  string    `json:"plugin"`
	Type    IssueType `json:"type"`
	Details []string  `json:"details"`
	Err     error     `json:"-"`
}

// PluginDeps is the input of Diagnose for one plugin.
type PluginDeps struct {
	Name   string
	Inject []string
}

// Diagnosis is the result of Diagnose. No plugin appears in both lists.
type Diagnosis struct {
	Order  []string `json:"order"`
	Issues []Issue  `json:"issues"`
}

// Diagnose computes a load order for plugins given the names of the
// available services.
//
// Plugins whose dependencies are neither available services nor other
// loadable plugins are pruned repeatedly until a pass removes nothing.
// Plugins on a dependency cycle are then pruned and reported with the cycle,
// and pruning runs again for their dependents. The remaining plugins are
// ordered so that every plugin follows the plugins it depends on; ties keep
// the input order. A name that is both a service and a plugin is a service.
//
// Duplicate plugin names are ignored after the first occurrence.
func Diagnose(plugins []PluginDeps, services []string) Diagnosis {
	available := make(map[string]bool, len(services))
	for _, s := range services {
		available[s] = true
	}

	var (
		names  []string
		inject = make(map[string][]string, len(plugins))
		valid  = make(map[string]bool, len(plugins))
		issues []Issue
	)
	for _, p := range plugins {
		if valid[p.Name] {
			continue
		}
		names = append(names, p.Name)
		inject[p.Name] = p.Inject
		valid[p.Name] = true
	}

	prune := func() {
		for {
			removed := false
			for _, name := range names {
				if !valid[name] {
					continue
				}
				var missing []string
				for _, dep := range inject[name] {
					if !available[dep] && !valid[dep] {
						missing = append(missing, dep)
					}
				}
				if len(missing) > 0 {
					valid[name] = false
					removed = true
					issues = append(issues, Issue{
						Plugin:  name,
						Type:    IssueMissingDependency,
						Details: missing,
						Err:     NewUnmetDependencyError(name, missing),
					})
				}
			}
			if !removed {
				return
			}
		}
	}

	buildGraph := func() *DependencyGraph {
		graph := NewDependencyGraph()
		for _, name := range names {
			if !valid[name] {
				continue
			}
			var deps []string
			for _, dep := range inject[name] {
				if !available[dep] && valid[dep] {
					deps = append(deps, dep)
				}
			}
			graph.AddPlugin(name, deps)
		}
		return graph
	}

	prune()

	cycles := buildGraph().FindCycles()
	for _, name := range names {
		cycle, ok := cycles[name]
		if !ok {
			continue
		}
		valid[name] = false
		issues = append(issues, Issue{
			Plugin:  name,
			Type:    IssueCircularDependency,
			Details: cycle,
			Err:     NewCircularDependencyError(name, cycle),
		})
	}
	if len(cycles) > 0 {
		prune()
	}

	order, _ := buildGraph().CalculateLoadOrder()
	if order == nil {
		order = []string{}
	}
	return Diagnosis{Order: order, Issues: issues}
}

// DependencyGraph holds plugin to plugin dependency edges in insertion order.
//
// Example usage:
//
//	graph := NewDependencyGraph()
//	graph.AddPlugin("auth", []string{"storage"})
//	graph.AddPlugin("api", []string{"auth"})
//	order, err := graph.CalculateLoadOrder()
type DependencyGraph struct {
	mu         sync.RWMutex
	names      []string
	deps       map[string][]string
	dependents map[string][]string
}

// NewDependencyGraph creates a new dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddPlugin adds a plugin, or replaces its dependencies. Dependencies that
// are not themselves added as plugins are ignored by CalculateLoadOrder.
func (dg *DependencyGraph) AddPlugin(name string, dependencies []string) {
	dg.mu.Lock()
	defer dg.mu.Unlock()

	if _, exists := dg.deps[name]; exists {
		dg.unlinkLocked(name)
	} else {
		dg.names = append(dg.names, name)
	}

	unique := make([]string, 0, len(dependencies))
	seen := make(map[string]bool, len(dependencies))
	for _, dep := range dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		unique = append(unique, dep)
		dg.dependents[dep] = append(dg.dependents[dep], name)
	}
	dg.deps[name] = unique
}

// RemovePlugin removes a plugin and its outgoing edges.
func (dg *DependencyGraph) RemovePlugin(name string) {
	dg.mu.Lock()
	defer dg.mu.Unlock()

	if _, exists := dg.deps[name]; !exists {
		return
	}
	dg.unlinkLocked(name)
	delete(dg.deps, name)
	for i, n := range dg.names {
		if n == name {
			dg.names = append(dg.names[:i:i], dg.names[i+1:]...)
			break
		}
	}
}

func (dg *DependencyGraph) unlinkLocked(name string) {
	for _, dep := range dg.deps[name] {
		dg.dependents[dep] = removeEntry(dg.dependents[dep], name)
		if len(dg.dependents[dep]) == 0 {
			delete(dg.dependents, dep)
		}
	}
}

// Names returns the plugins in insertion order.
func (dg *DependencyGraph) Names() []string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	out := make([]string, len(dg.names))
	copy(out, dg.names)
	return out
}

// GetDependencies returns the dependencies of a plugin.
func (dg *DependencyGraph) GetDependencies(name string) []string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	result := make([]string, len(dg.deps[name]))
	copy(result, dg.deps[name])
	return result
}

// GetDependents returns the plugins depending on name, in insertion order.
func (dg *DependencyGraph) GetDependents(name string) []string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	result := make([]string, len(dg.dependents[name]))
	copy(result, dg.dependents[name])
	return result
}

// FindCycles returns, for every plugin found on a cycle, the cycle it was
// found on. Cycles are reported as the DFS path from the first revisited
// plugin with that plugin repeated at the end.
func (dg *DependencyGraph) FindCycles() map[string][]string {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(dg.names))
	cycles := make(map[string][]string)
	var path []string

	var visit func(name string)
	visit = func(name string) {
		state[name] = onPath
		path = append(path, name)
		for _, dep := range dg.deps[name] {
			if _, isNode := dg.deps[dep]; !isNode {
				continue
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case onPath:
				start := len(path) - 1
				for path[start] != dep {
					start--
				}
				cycle := make([]string, 0, len(path)-start+1)
				cycle = append(cycle, path[start:]...)
				cycle = append(cycle, dep)
				for _, member := range cycle[:len(cycle)-1] {
					if _, reported := cycles[member]; !reported {
						cycles[member] = cycle
					}
				}
			}
		}
		path = path[:len(path)-1]
		state[name] = done
	}

	for _, name := range dg.names {
		if state[name] == unvisited {
			visit(name)
		}
	}
	return cycles
}

// CalculateLoadOrder orders the plugins so that each follows its
// dependencies, breaking ties by insertion order. It returns the partial
// order and an error when the graph has a cycle.
func (dg *DependencyGraph) CalculateLoadOrder() ([]string, error) {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	inDegree := dg.calculateInDegrees()
	queue := dg.findRootNodes(inDegree)
	loadOrder := dg.processTopologicalSort(queue, inDegree)

	if len(loadOrder) != len(dg.names) {
		var stuck []string
		for _, name := range dg.names {
			if inDegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return loadOrder, NewCircularDependencyError(stuck[0], stuck)
	}
	return loadOrder, nil
}

// calculateInDegrees counts, for each plugin, the dependencies that are
// plugins of the graph.
func (dg *DependencyGraph) calculateInDegrees() map[string]int {
	inDegree := make(map[string]int, len(dg.names))
	for _, name := range dg.names {
		for _, dep := range dg.deps[name] {
			if _, isNode := dg.deps[dep]; isNode {
				inDegree[name]++
			}
		}
	}
	return inDegree
}

// findRootNodes returns the plugins without plugin dependencies, in
// insertion order.
func (dg *DependencyGraph) findRootNodes(inDegree map[string]int) []string {
	var queue []string
	for _, name := range dg.names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	return queue
}

// processTopologicalSort runs Kahn's algorithm with a FIFO queue.
func (dg *DependencyGraph) processTopologicalSort(queue []string, inDegree map[string]int) []string {
	loadOrder := make([]string, 0, len(dg.names))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		loadOrder = append(loadOrder, current)

		for _, dependent := range dg.dependents[current] {
			if _, isNode := dg.deps[dependent]; !isNode {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return loadOrder
}
