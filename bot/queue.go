package bot

import "sync"

// userQueue runs jobs of one user one at a time, in the order they were
// pushed. A user with pending jobs has exactly one worker goroutine; workers
// of different users run concurrently. The zero value is ready to use.
type userQueue struct {
	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

func (q *userQueue) push(userID int64, job func()) {
	q.mu.Lock()
	if q.pending == nil {
		q.pending = make(map[int64][]func())
	}
	jobs, running := q.pending[userID]
	q.pending[userID] = append(jobs, job)
	if !running {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if !running {
		go q.work(userID)
	}
}

// work drains the user's jobs and exits once none are left. The map entry
// lives exactly as long as the worker.
func (q *userQueue) work(userID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[userID]
		if len(jobs) == 0 {
			delete(q.pending, userID)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		jobs[0] = nil
		q.pending[userID] = jobs[1:]
		q.mu.Unlock()

		job()
	}
}

// wait blocks until every pushed job has run.
func (q *userQueue) wait() {
	q.wg.Wait()
}
