package offset

import (
	"context"
	"time"
)

// Track starts p's commit window now. Drivers call it when a partition is
// assigned so the first deadline is measured from the assignment.
func (c *Coordinator) Track(p Partition) {
	st := c.state(p)
	st.mu.Lock()
	st.lastCommit = c.now()
	st.mu.Unlock()
}

// Deadline is the time by which p's next commit is due: one commit interval
// after its last successful commit (or assignment).
func (c *Coordinator) Deadline(p Partition) time.Time {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastCommit.Add(c.every)
}

// FlushDue commits p's pending offset when its commit window is about to
// close. Idle partitions rely on it to get deferred commits out.
func (c *Coordinator) FlushDue(ctx context.Context, p Partition) (bool, error) {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.hasPending {
		return false, nil
	}
	if st.lastCommit.Add(c.every).Sub(c.now()) >= c.urgency {
		return false, nil
	}
	return true, c.flushLocked(ctx, st, p)
}
