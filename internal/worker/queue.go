package worker

import "time"

// queuedJob pairs a job with its snapshotted effective priority. The monitor
// refreshes effective priorities periodically so aged jobs rise in the heap.
type queuedJob struct {
	job      *Job
	priority int // effective priority at last refresh
	index    int // heap index
}

// effectivePriority is the base priority plus one point per aging interval,
// so no job waits indefinitely behind a stream of higher-priority work.
func effectivePriority(j *Job, now time.Time, boostMinutes int) int {
	if boostMinutes <= 0 {
		boostMinutes = 5
	}
	age := int(now.Sub(j.EnqueuedAt).Minutes()) / boostMinutes
	return j.Priority + age
}

// jobHeap is a max-heap on effective priority; ties go to the older job.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].job.EnqueuedAt.Before(h[j].job.EnqueuedAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	qj := x.(*queuedJob)
	qj.index = len(*h)
	*h = append(*h, qj)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	qj := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qj
}
