package submit

import (
	"fmt"

	"github.com/nvmeqd/nvmeqd/internal/nvme"
)

// Controller is the set of queue pairs a Driver has created, used to
// route admin commands (which have no natural qpair of their own) to
// queue pair 0 per spec §4.3 ("admin commands route to qpair 0").
type Controller struct {
	queues [256]*Queue // generously sized; real cap enforced by Driver.NewQueuePair
}

// NewController returns an empty controller with no queue pairs attached.
func NewController() *Controller {
	return &Controller{}
}

// Attach registers q under its own ID for routing.
func (c *Controller) Attach(q *Queue) {
	c.queues[q.ID] = q
}

// Detach removes the queue pair with the given id.
func (c *Controller) Detach(id int) {
	if id >= 0 && id < len(c.queues) {
		c.queues[id] = nil
	}
}

// QueueFor resolves a qpair id to its Queue, routing a negative id
// (the "admin command, no specific qpair" case) to queue pair 0.
func (c *Controller) QueueFor(qpairID int) (*Queue, error) {
	if qpairID < 0 {
		qpairID = 0
	}
	if qpairID >= len(c.queues) || c.queues[qpairID] == nil {
		return nil, fmt.Errorf("submit: no queue pair %d attached", qpairID)
	}
	return c.queues[qpairID], nil
}

// SubmitRaw resolves qpairID (routing admin commands with qpairID < 0
// to queue pair 0) and submits through that queue's SubmitRaw.
func (c *Controller) SubmitRaw(qpairID int, opcode byte, nsid uint32, buf []byte, cdw [6]uint32, cb func(cpl *nvme.Completion), arg any) error {
	q, err := c.QueueFor(qpairID)
	if err != nil {
		return err
	}
	return q.SubmitRaw(opcode, nsid, buf, cdw, cb, arg)
}
