package executor

import (
	"github.com/jonesrussell/godispatch/internal/domain"
)

// tieredQueue holds one FIFO slice per priority tier. Dequeue always
// drains the highest tier first; a lower tier is only visited when all
// higher tiers are empty. Not safe for concurrent use; callers hold the
// executor mutex.
type tieredQueue struct {
	tiers map[domain.Priority][]*domain.Job
}

func newTieredQueue() *tieredQueue {
	q := &tieredQueue{tiers: make(map[domain.Priority][]*domain.Job)}
	for _, p := range domain.AllPriorities() {
		q.tiers[p] = nil
	}
	return q
}

// push appends a job to the tail of its priority tier.
func (q *tieredQueue) push(job *domain.Job) {
	q.tiers[job.Priority] = append(q.tiers[job.Priority], job)
}

// pushFront puts a job back at the head of its tier, preserving its
// position for the next dequeue attempt.
func (q *tieredQueue) pushFront(job *domain.Job) {
	q.tiers[job.Priority] = append([]*domain.Job{job}, q.tiers[job.Priority]...)
}

// pop removes and returns the head of the highest non-empty tier, or
// nil when the queue is empty.
func (q *tieredQueue) pop() *domain.Job {
	for _, p := range domain.AllPriorities() {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		job := tier[0]
		q.tiers[p] = tier[1:]
		return job
	}
	return nil
}

// remove deletes a job from its tier by ID. Returns true if found.
func (q *tieredQueue) remove(jobID string) bool {
	for p, tier := range q.tiers {
		for i, job := range tier {
			if job.ID == jobID {
				q.tiers[p] = append(tier[:i:i], tier[i+1:]...)
				return true
			}
		}
	}
	return false
}

// len returns the total number of queued jobs across all tiers.
func (q *tieredQueue) len() int {
	total := 0
	for _, tier := range q.tiers {
		total += len(tier)
	}
	return total
}

// counts returns the number of queued jobs per priority tier.
func (q *tieredQueue) counts() map[domain.Priority]int {
	out := make(map[domain.Priority]int, len(q.tiers))
	for p, tier := range q.tiers {
		out[p] = len(tier)
	}
	return out
}
