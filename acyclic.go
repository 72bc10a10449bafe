package cellgraph

// ValidateAcyclic checks that refs do not form a cycle using DFS.
// Stores call it before persisting a new edge.
func ValidateAcyclic(refs []Reference) error {
	adj := make(map[string][]string)
	for _, r := range refs {
		adj[r.FromFieldID] = append(adj[r.FromFieldID], r.ToFieldID)
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	// Keep a slice of ids so iteration order is stable.
	state := make(map[string]int)
	var ids []string
	for _, r := range refs {
		for _, id := range [2]string{r.FromFieldID, r.ToFieldID} {
			if _, ok := state[id]; !ok {
				state[id] = unvisited
				ids = append(ids, id)
			}
		}
	}

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = visiting
		for _, next := range adj[id] {
			switch state[next] {
			case visiting:
				return true
			case unvisited:
				if dfs(next) {
					return true
				}
			}
		}
		state[id] = visited
		return false
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if dfs(id) {
				return ErrCycleDetected
			}
		}
	}

	return nil
}
