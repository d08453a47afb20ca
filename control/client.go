package control

import (
	"fmt"
	"io"
	"sync"

	"github.com/Swind/go-proc-scheduler/core"
)

// StatusError is a non-OK reply from the scheduler.
type StatusError struct {
	Op     Opcode
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Status, int32(e.Status))
}

// Unwrap maps the status back to the matching sentinel.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case StatusNotFound:
		return core.ErrNotFound
	case StatusInvalid:
		return core.ErrInvalidTaskName
	case StatusSpawnFailed:
		return core.ErrSpawnFailed
	case StatusUnsupported:
		return ErrUnsupported
	default:
		return nil
	}
}

// Client is the controller side of the channel. It is safe for concurrent
// use; requests are serialized.
type Client struct {
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
}

// NewClient creates a client that writes requests to w and reads statuses from r.
func NewClient(r io.Reader, w io.Writer) *Client {
	return &Client{r: r, w: w}
}

// Do sends req and waits for its status. The error is only set on transport
// or encoding failures.
func (c *Client) Do(req Request) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteRequest(c.w, req); err != nil {
		return 0, err
	}
	return ReadStatus(c.r)
}

func (c *Client) call(req Request) error {
	status, err := c.Do(req)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return &StatusError{Op: req.Op, Status: status}
	}
	return nil
}

// PrintTasks asks the scheduler to print its task list.
func (c *Client) PrintTasks() error {
	return c.call(Request{Op: OpPrintTasks})
}

// KillTask asks the scheduler to kill the task with the given id.
func (c *Client) KillTask(id int32) error {
	return c.call(Request{Op: OpKillTask, TaskID: id})
}

// ExecTask asks the scheduler to launch name.
func (c *Client) ExecTask(name string) error {
	return c.call(Request{Op: OpExecTask, Name: name})
}

// GotoTask, HighTask and LowTask are part of the wire format; the scheduler
// answers them with StatusUnsupported.
func (c *Client) GotoTask(id int32) error {
	return c.call(Request{Op: OpGotoTask, TaskID: id})
}

func (c *Client) HighTask(id int32) error {
	return c.call(Request{Op: OpHighTask, TaskID: id})
}

func (c *Client) LowTask(id int32) error {
	return c.call(Request{Op: OpLowTask, TaskID: id})
}
