package task

// Queue is a FIFO list of tasks linked through the tasks themselves, so
// enqueueing never allocates. A task may be linked into at most one Queue.
type Queue struct {
	head, tail *Task
	len        int
}

// PushBack appends t to the tail of the queue.
func (q *Queue) PushBack(t *Task) {
	t.next = nil
	if q.tail == nil {
		q.head = t
	} else {
		q.tail.next = t
	}
	q.tail = t
	q.len++
}

// PopFront removes and returns the task at the head of the queue or nil if
// the queue is empty.
func (q *Queue) PopFront() *Task {
	t := q.head
	if t == nil {
		return nil
	}

	q.head = t.next
	if q.head == nil {
		q.tail = nil
	}
	t.next = nil
	q.len--

	return t
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return q.len
}

// Visit invokes visitor for each queued task from head to tail.
func (q *Queue) Visit(visitor func(*Task)) {
	for t := q.head; t != nil; t = t.next {
		visitor(t)
	}
}
