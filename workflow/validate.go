package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures. ValidationError wraps exactly one of these.
var (
	ErrPlanRequired    = errors.New("plan is required")
	ErrTitleRequired   = errors.New("title is required")
	ErrTasksRequired   = errors.New("tasks are required")
	ErrDuplicateTaskID = errors.New("duplicate task id")
	ErrDependencyCycle = errors.New("dependency cycle")
	ErrSchemaMismatch  = errors.New("plan does not match schema")
)

// ValidationError reports why a plan was rejected. IDs lists the offending
// task IDs; for a cycle they form the path, first and last equal.
type ValidationError struct {
	Err    error
	IDs    []TaskID
	Detail string
}

func (e *ValidationError) Error() string {
	msg := e.Err.Error()
	if len(e.IDs) > 0 {
		parts := make([]string, len(e.IDs))
		for i, id := range e.IDs {
			parts[i] = string(id)
		}
		sep := ", "
		if errors.Is(e.Err, ErrDependencyCycle) {
			sep = " -> "
		}
		msg += ": " + strings.Join(parts, sep)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the structural invariants of p: a title, a task list,
// unique task IDs and an acyclic dependency graph. It never modifies p.
// Dependencies on IDs that are not in the plan are outside the graph and
// do not affect the result; see DanglingDependencies.
func Validate(p *Plan) error {
	if p == nil {
		return &ValidationError{Err: ErrPlanRequired}
	}
	if strings.TrimSpace(p.Title) == "" {
		return &ValidationError{Err: ErrTitleRequired}
	}
	if p.Tasks == nil {
		return &ValidationError{Err: ErrTasksRequired}
	}

	index, dups := indexTasks(p.Tasks)
	if len(dups) > 0 {
		return &ValidationError{Err: ErrDuplicateTaskID, IDs: dups}
	}

	if cycle := findCycle(p.Tasks, index); cycle != nil {
		return &ValidationError{Err: ErrDependencyCycle, IDs: cycle}
	}
	return nil
}

// indexTasks maps each ID to a dense index and returns IDs that occur more
// than once, each reported once in order of first repetition.
func indexTasks(tasks []Task) (map[TaskID]int, []TaskID) {
	index := make(map[TaskID]int, len(tasks))
	var dups []TaskID
	reported := make(map[TaskID]bool)
	for i, t := range tasks {
		if _, seen := index[t.ID]; seen {
			if !reported[t.ID] {
				dups = append(dups, t.ID)
				reported[t.ID] = true
			}
			continue
		}
		index[t.ID] = i
	}
	return index, dups
}

const (
	white uint8 = iota // unvisited
	gray               // on the DFS stack
	black              // fully explored
)

// findCycle runs an iterative three-color DFS over the dependency graph
// (edge task → dependency) and returns the first cycle found as an ID path,
// or nil if the graph is acyclic.
func findCycle(tasks []Task, index map[TaskID]int) []TaskID {
	n := len(tasks)
	adj := make([][]int, n)
	for i, t := range tasks {
		for _, dep := range t.Dependencies {
			if j, ok := index[dep]; ok {
				adj[i] = append(adj[i], j)
			}
		}
	}

	type frame struct {
		node int
		next int
	}

	color := make([]uint8, n)
	parent := make([]int, n)
	stack := make([]frame, 0, n)

	for root := 0; root < n; root++ {
		if color[root] != white {
			continue
		}
		color[root] = gray
		parent[root] = -1
		stack = append(stack[:0], frame{node: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(adj[top.node]) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}

			u := top.node
			v := adj[u][top.next]
			top.next++

			switch color[v] {
			case white:
				color[v] = gray
				parent[v] = u
				stack = append(stack, frame{node: v})
			case gray:
				return cyclePath(tasks, parent, u, v)
			}
		}
	}
	return nil
}

// cyclePath rebuilds v → … → u → v from the DFS parent links.
func cyclePath(tasks []Task, parent []int, u, v int) []TaskID {
	nodes := []int{u}
	for x := u; x != v; x = parent[x] {
		nodes = append(nodes, parent[x])
	}

	path := make([]TaskID, 0, len(nodes)+1)
	for i := len(nodes) - 1; i >= 0; i-- {
		path = append(path, tasks[nodes[i]].ID)
	}
	return append(path, tasks[v].ID)
}

// Dangling is a dependency on an ID that is not part of the plan.
type Dangling struct {
	Task       TaskID
	Dependency TaskID
}

func (d Dangling) String() string {
	return fmt.Sprintf("%s -> %s", d.Task, d.Dependency)
}

// DanglingDependencies lists dependencies that reference no task in p.
func DanglingDependencies(p *Plan) []Dangling {
	if p == nil {
		return nil
	}
	ids := make(map[TaskID]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		ids[t.ID] = true
	}

	var out []Dangling
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !ids[dep] {
				out = append(out, Dangling{Task: t.ID, Dependency: dep})
			}
		}
	}
	return out
}
