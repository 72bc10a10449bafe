package cellgraph

import "fmt"

// TopologicalOrder orders the fields reachable from root so that every field
// comes after all of its dependencies.
//
// Fields are discovered breadth-first from root. Each field collects its
// direct dependencies from every edge pointing at it; dependencies that are
// not reachable from root are not recomputed and count as satisfied. Ready
// fields are emitted in discovery order, so identical inputs always produce
// the same order. The root is emitted first with no dependencies.
func TopologicalOrder(root string, refs []Reference) ([]TopoNode, error) {
	children := make(map[string][]string)
	deps := make(map[string][]string)
	seenEdge := make(map[Reference]bool)
	for _, r := range refs {
		if seenEdge[r] {
			continue
		}
		seenEdge[r] = true
		children[r.FromFieldID] = append(children[r.FromFieldID], r.ToFieldID)
		deps[r.ToFieldID] = append(deps[r.ToFieldID], r.FromFieldID)
	}

	// Breadth-first discovery.
	discovered := map[string]bool{root: true}
	order := []string{root}
	for i := 0; i < len(order); i++ {
		for _, next := range children[order[i]] {
			if !discovered[next] {
				discovered[next] = true
				order = append(order, next)
			}
		}
	}

	for _, r := range refs {
		if r.ToFieldID == root && discovered[r.FromFieldID] {
			return nil, fmt.Errorf("%w: %s is reached again through %s", ErrCycleDetected, root, r.FromFieldID)
		}
	}

	visited := map[string]bool{root: true}
	nodes := make([]TopoNode, 0, len(order))
	nodes = append(nodes, TopoNode{ID: root, Dependencies: []string{}})

	pending := order[1:]
	for len(pending) > 0 {
		var stuck []string
		for _, id := range pending {
			if ready(deps[id], discovered, visited) {
				visited[id] = true
				nodes = append(nodes, TopoNode{ID: id, Dependencies: append([]string{}, deps[id]...)})
				continue
			}
			stuck = append(stuck, id)
		}
		if len(stuck) == len(pending) {
			return nil, fmt.Errorf("%w: fields %v never became ready", ErrCycleDetected, stuck)
		}
		pending = stuck
	}

	return nodes, nil
}

func ready(deps []string, inClosure, visited map[string]bool) bool {
	for _, d := range deps {
		if inClosure[d] && !visited[d] {
			return false
		}
	}
	return true
}
