package domain

import "sort"

// Graph models the "needs" ordering between a pipeline's jobs. It is built
// once per pipeline instantiation; a cyclic or dangling declaration is a
// ConfigError, never a runtime deadlock.
type Graph struct {
	nodes map[string]*graphNode
}

type graphNode struct {
	name       string
	deps       map[string]*graphNode
	dependents map[string]*graphNode
}

// BuildGraph validates job names and needs declarations and returns the
// dependency graph, or a ConfigError describing the first problem found.
func BuildGraph(jobs []Job) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode, len(jobs))}

	for _, j := range jobs {
		if j.Name == "" {
			return nil, Configf("job with empty name")
		}
		if _, ok := g.nodes[j.Name]; ok {
			return nil, Configf("duplicate job name %q", j.Name)
		}
		g.nodes[j.Name] = &graphNode{
			name:       j.Name,
			deps:       make(map[string]*graphNode),
			dependents: make(map[string]*graphNode),
		}
	}

	for _, j := range jobs {
		for _, need := range j.Needs {
			if need == j.Name {
				return nil, Configf("job %q needs itself", j.Name)
			}
			dep, ok := g.nodes[need]
			if !ok {
				return nil, Configf("job %q needs unknown job %q", j.Name, need)
			}
			n := g.nodes[j.Name]
			n.deps[need] = dep
			dep.dependents[j.Name] = n
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycles runs a depth-first search with the usual permanent/temporary
// marking. The first node found on the recursion stack names the cycle.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool, len(g.nodes))
	temporary := make(map[string]bool)

	var visit func(n *graphNode) error
	visit = func(n *graphNode) error {
		if permanent[n.name] {
			return nil
		}
		if temporary[n.name] {
			return Configf("job dependency cycle involving %q", n.name)
		}
		temporary[n.name] = true
		for _, d := range sortedNodes(n.dependents) {
			if err := visit(d); err != nil {
				return err
			}
		}
		delete(temporary, n.name)
		permanent[n.name] = true
		return nil
	}

	for _, n := range sortedNodes(g.nodes) {
		if !permanent[n.name] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// Layers returns the topological order grouped into waves: every job in a
// layer depends only on jobs in earlier layers, so one layer may run in
// parallel. Names inside a layer are sorted, making the order deterministic
// for a given definition.
func (g *Graph) Layers() [][]string {
	indegree := make(map[string]int, len(g.nodes))
	for name, n := range g.nodes {
		indegree[name] = len(n.deps)
	}

	var layers [][]string
	remaining := len(g.nodes)
	for remaining > 0 {
		var layer []string
		for name, d := range indegree {
			if d == 0 {
				layer = append(layer, name)
			}
		}
		sort.Strings(layer)
		for _, name := range layer {
			delete(indegree, name)
			for dep := range g.nodes[name].dependents {
				indegree[dep]--
			}
		}
		layers = append(layers, layer)
		remaining -= len(layer)
	}
	return layers
}

// Dependencies returns the sorted names a job directly needs.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.deps))
	for dep := range n.deps {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

func sortedNodes(m map[string]*graphNode) []*graphNode {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*graphNode, len(names))
	for i, name := range names {
		out[i] = m[name]
	}
	return out
}
