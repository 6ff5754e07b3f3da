package client

import (
	"sync"
	"time"
)

// DefaultPollQueueSize bounds how many unanswered reply lines are kept.
const DefaultPollQueueSize = 32

// PollQueue hands reply lines read by the connection over to a caller blocked
// in a synchronous request. Replies carry no correlation id: the first line
// to arrive after a request is taken to be its answer.
type PollQueue struct {
	mu    sync.Mutex
	lines []string
	size  int

	// notify has capacity one and is signalled whenever a line is pushed.
	notify chan struct{}
}

func NewPollQueue(size int) *PollQueue {
	if size < 1 {
		size = DefaultPollQueueSize
	}

	return &PollQueue{
		size:   size,
		lines:  make([]string, 0, size),
		notify: make(chan struct{}, 1),
	}
}

// Push appends line, dropping the oldest entry when the queue is full.
func (p *PollQueue) Push(line string) {
	p.mu.Lock()
	if len(p.lines) >= p.size {
		p.lines = p.lines[1:]
	}
	p.lines = append(p.lines, line)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Clear discards every queued line.
func (p *PollQueue) Clear() {
	p.mu.Lock()
	p.lines = p.lines[:0]
	p.mu.Unlock()

	select {
	case <-p.notify:
	default:
	}
}

func (p *PollQueue) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.lines)
}

// Poll removes and returns the oldest line.
func (p *PollQueue) Poll() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.lines) == 0 {
		return "", false
	}

	line := p.lines[0]
	p.lines = p.lines[1:]

	return line, true
}

// Await blocks until a line is available or timeout elapses.
func (p *PollQueue) Await(timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if line, ok := p.Poll(); ok {
			return line, true
		}

		select {
		case <-p.notify:
		case <-timer.C:
			// A line may have raced the timer.
			return p.Poll()
		}
	}
}
