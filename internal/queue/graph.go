package queue

// Graph is a unit of work to enqueue: a task, a group of tasks, or a group
// chained to a continuation that runs once every member has finished.
type Graph interface {
	graph()
}

// TaskSig is a named task with JSON-encodable arguments.
type TaskSig struct {
	Name string
	Args any
}

// GroupSig runs its tasks independently.
type GroupSig struct {
	Tasks []*TaskSig
}

// ChainSig runs Next after every task of Group has finished. Next reads the
// members' results with TaskContext.GroupResults.
type ChainSig struct {
	Group *GroupSig
	Next  *TaskSig
}

func (*TaskSig) graph()  {}
func (*GroupSig) graph() {}
func (*ChainSig) graph() {}

// Task returns a task signature.
func Task(name string, args any) *TaskSig {
	return &TaskSig{Name: name, Args: args}
}

// Group returns a group of tasks.
func Group(tasks ...*TaskSig) *GroupSig {
	return &GroupSig{Tasks: tasks}
}

// Chain returns group followed by next.
func Chain(group *GroupSig, next *TaskSig) *ChainSig {
	return &ChainSig{Group: group, Next: next}
}

// JoinTask is the continuation added when a group member replaces itself
// with a bare group; its result is the list of the group's results.
const JoinTask = "queue.join"
