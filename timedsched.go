package plc

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler runs f once after delay. Callbacks must not block.
type Scheduler interface {
	Put(f func(), delay time.Duration)
}

// SystemTimedSched is the package level scheduler used by nodes that are not
// given one.
var SystemTimedSched = NewTimedSched(1)

type timedFunc struct {
	execute func()
	ts      time.Time
}

// a heap for sorted time
type timedFuncHeap []timedFunc

func (h timedFuncHeap) Len() int           { return len(h) }
func (h timedFuncHeap) Less(i, j int) bool { return h[i].ts.Before(h[j].ts) }
func (h timedFuncHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timedFuncHeap) Push(x interface{}) { *h = append(*h, x.(timedFunc)) }

func (h *timedFuncHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1].execute = nil
	*h = old[0 : n-1]
	return x
}

// TimedSched executes delayed functions on a fixed set of goroutines.
type TimedSched struct {
	// prepending tasks
	prependTasks    []timedFunc
	prependLock     sync.Mutex
	chPrependNotify chan struct{}

	// tasks are distributed through chTask
	chTask chan timedFunc

	dieOnce sync.Once
	die     chan struct{}
}

func NewTimedSched(parallel int) *TimedSched {
	ts := new(TimedSched)
	ts.chTask = make(chan timedFunc)
	ts.die = make(chan struct{})
	ts.chPrependNotify = make(chan struct{}, 1)

	for i := 0; i < parallel; i++ {
		go ts.sched()
	}
	go ts.prepend()
	return ts
}

func (ts *TimedSched) sched() {
	var tasks timedFuncHeap
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if tasks.Len() > 0 {
			timer.Reset(time.Until(tasks[0].ts))
		}
	}

	for {
		select {
		case task := <-ts.chTask:
			if !time.Now().Before(task.ts) {
				task.execute()
				continue
			}
			heap.Push(&tasks, task)
			if tasks[0].ts.Equal(task.ts) {
				rearm()
			}
		case <-timer.C:
			now := time.Now()
			for tasks.Len() > 0 && !now.Before(tasks[0].ts) {
				heap.Pop(&tasks).(timedFunc).execute()
			}
			if tasks.Len() > 0 {
				timer.Reset(time.Until(tasks[0].ts))
			}
		case <-ts.die:
			return
		}
	}
}

func (ts *TimedSched) prepend() {
	for {
		select {
		case <-ts.chPrependNotify:
			ts.prependLock.Lock()
			tasks := ts.prependTasks
			ts.prependTasks = nil
			ts.prependLock.Unlock()

			for k := range tasks {
				select {
				case ts.chTask <- tasks[k]:
				case <-ts.die:
					return
				}
			}
		case <-ts.die:
			return
		}
	}
}

// Put schedules f to run after delay.
func (ts *TimedSched) Put(f func(), delay time.Duration) {
	ts.prependLock.Lock()
	ts.prependTasks = append(ts.prependTasks, timedFunc{f, time.Now().Add(delay)})
	ts.prependLock.Unlock()
	select {
	case ts.chPrependNotify <- struct{}{}:
	default:
	}
}

// Close terminates the scheduler. Pending functions are not run.
func (ts *TimedSched) Close() { ts.dieOnce.Do(func() { close(ts.die) }) }
