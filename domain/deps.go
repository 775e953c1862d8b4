package domain

// DependencyCycle walks the dependency edges of the given tasks and returns
// the ids of one cycle when the graph is not acyclic, or nil. Dependencies
// pointing at tasks outside the set are ignored: a scope fetch may not carry
// the whole graph.
func DependencyCycle(tasks []Task) []string {
	edges := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		edges[t.ID] = t.Dependencies
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(edges))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range edges[id] {
			if _, known := edges[dep]; !known {
				continue
			}
			switch state[dep] {
			case visiting:
				// Cut the stack back to where the cycle starts.
				for i, v := range stack {
					if v == dep {
						return append([]string(nil), stack[i:]...)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, t := range tasks {
		if state[t.ID] == unvisited {
			if cycle := visit(t.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
