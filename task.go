package dht

import (
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/chansync/events"
)

type taskState int

const (
	taskCreated taskState = iota
	taskRunning
	taskFinished
)

// A multi round trip operation. Tasks are driven by the taskQueue and by
// replies and timeouts of the queries they make, always with the Server
// locked.
type task interface {
	base() *taskBase
	// Called once when the task is started by its executor. It may finish
	// the task immediately.
	startup()
}

type taskBase struct {
	s            *Server
	state        taskState
	done         chansync.SetOnce
	whenFinished []func()
}

func (t *taskBase) base() *taskBase {
	return t
}

func (t *taskBase) finished() bool {
	return t.state == taskFinished
}

// Closed when the task finishes.
func (t *taskBase) Done() events.Done {
	return t.done.Done()
}

// Whether the task has finished. Safe to call without the Server's lock.
func (t *taskBase) Finished() bool {
	return t.done.IsSet()
}

func (t *taskBase) onFinished(f func()) {
	t.whenFinished = append(t.whenFinished, f)
}

func (t *taskBase) finish() {
	if t.state == taskFinished {
		return
	}
	t.state = taskFinished
	for _, f := range t.whenFinished {
		f()
	}
	t.whenFinished = nil
	t.done.Set()
}

// Runs up to limit tasks at a time, starting pending ones in the order they
// were added as running ones finish.
type taskExecutor struct {
	limit   int
	running []task
	pending []task
}

func (e *taskExecutor) add(t task) {
	e.pending = append(e.pending, t)
}

func (e *taskExecutor) update() {
	running := e.running[:0]
	for _, t := range e.running {
		if !t.base().finished() {
			running = append(running, t)
		}
	}
	for i := len(running); i < len(e.running); i++ {
		e.running[i] = nil
	}
	e.running = running
	for len(e.running) < e.limit && len(e.pending) != 0 {
		t := e.pending[0]
		e.pending[0] = nil
		e.pending = e.pending[1:]
		e.running = append(e.running, t)
		t.base().state = taskRunning
		t.startup()
	}
}

// Removes every task, running or not.
func (e *taskExecutor) takeAll() (ret []task) {
	ret = append(e.running, e.pending...)
	e.running = nil
	e.pending = nil
	return
}

func (e *taskExecutor) numTasks() int {
	return len(e.running) + len(e.pending)
}

// Maintenance tasks like node replacement and bucket refreshes go in the
// periodic executor. Lookups and pings go in the immediate executor.
type taskQueue struct {
	periodic  taskExecutor
	immediate taskExecutor
}

func newTaskQueue(numPeriodic, numImmediate int) taskQueue {
	return taskQueue{
		periodic:  taskExecutor{limit: numPeriodic},
		immediate: taskExecutor{limit: numImmediate},
	}
}

func (q *taskQueue) executeTask() {
	q.periodic.update()
	q.immediate.update()
}

func (q *taskQueue) addPeriodicTask(t task) {
	q.periodic.add(t)
}

func (q *taskQueue) addImmediateTask(t task) {
	q.immediate.add(t)
}

// Finishes everything, including tasks added by finishing others.
func (q *taskQueue) finishAll() {
	for q.numTasks() != 0 {
		for _, t := range append(q.periodic.takeAll(), q.immediate.takeAll()...) {
			t.base().finish()
		}
	}
}

func (q *taskQueue) numTasks() int {
	return q.periodic.numTasks() + q.immediate.numTasks()
}
