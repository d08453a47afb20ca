package control

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// NameSize is the size of the fixed exec argument field.
	NameSize = 60

	// MaxNameLen leaves room for the terminating NUL.
	MaxNameLen = NameSize - 1

	// RequestSize is the encoded size of a Request.
	RequestSize = 4 + 4 + NameSize

	// ResponseSize is the encoded size of a Status.
	ResponseSize = 4
)

var (
	// ErrChannelBroken is returned when the peer hung up or a transfer was short.
	ErrChannelBroken = errors.New("control channel broken")

	// ErrNameTooLong is returned when encoding a name longer than MaxNameLen.
	ErrNameTooLong = errors.New("task name too long")

	// ErrUnsupported is the client-side error for StatusUnsupported.
	ErrUnsupported = errors.New("request not supported")
)

// Opcode identifies a control request. Values are fixed by the wire format.
type Opcode int32

const (
	OpPrintTasks Opcode = iota
	OpGotoTask
	OpKillTask
	OpExecTask
	OpHighTask
	OpLowTask
)

func (o Opcode) String() string {
	switch o {
	case OpPrintTasks:
		return "PRINT_TASKS"
	case OpGotoTask:
		return "GOTO_TASK"
	case OpKillTask:
		return "KILL_TASK"
	case OpExecTask:
		return "EXEC_TASK"
	case OpHighTask:
		return "HIGH_TASK"
	case OpLowTask:
		return "LOW_TASK"
	default:
		return fmt.Sprintf("OP_%d", int32(o))
	}
}

// Status is the reply to a request. Negative values mirror Linux errno
// numbers so controllers built against the C headers read them unchanged.
type Status int32

const (
	StatusOK          Status = 0
	StatusNotFound    Status = -3  // ESRCH
	StatusInternal    Status = -5  // EIO
	StatusSpawnFailed Status = -11 // EAGAIN
	StatusInvalid     Status = -22 // EINVAL
	StatusUnsupported Status = -38 // ENOSYS
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusInternal:
		return "internal"
	case StatusSpawnFailed:
		return "spawn_failed"
	case StatusInvalid:
		return "invalid"
	case StatusUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("status_%d", int32(s))
	}
}

// Request is one control request.
type Request struct {
	Op Opcode

	// TaskID is the scheduler id for KILL_TASK (and the unsupported id-taking ops).
	TaskID int32

	// Name is the executable for EXEC_TASK.
	Name string
}

// wireRequest is the fixed-size layout on the channel.
type wireRequest struct {
	Op      int32
	TaskArg int32
	ExecArg [NameSize]byte
}

// MarshalBinary encodes r in native byte order.
func (r Request) MarshalBinary() ([]byte, error) {
	if len(r.Name) > MaxNameLen {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrNameTooLong, len(r.Name), MaxNameLen)
	}
	if bytes.IndexByte([]byte(r.Name), 0) >= 0 {
		return nil, fmt.Errorf("task name %q contains NUL", r.Name)
	}

	w := wireRequest{Op: int32(r.Op), TaskArg: r.TaskID}
	copy(w.ExecArg[:], r.Name)

	var buf bytes.Buffer
	buf.Grow(RequestSize)
	if err := binary.Write(&buf, binary.NativeEndian, &w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a request. The name ends at the first NUL; a
// field without one yields a NameSize-byte name, which fails validation.
func (r *Request) UnmarshalBinary(data []byte) error {
	if len(data) != RequestSize {
		return fmt.Errorf("request is %d bytes, want %d", len(data), RequestSize)
	}
	var w wireRequest
	if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, &w); err != nil {
		return err
	}

	name := w.ExecArg[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	*r = Request{Op: Opcode(w.Op), TaskID: w.TaskArg, Name: string(name)}
	return nil
}

// ReadRequest reads exactly one request.
func ReadRequest(r io.Reader) (Request, error) {
	buf := make([]byte, RequestSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Request{}, fmt.Errorf("%w: read request: %v", ErrChannelBroken, err)
	}
	var req Request
	if err := req.UnmarshalBinary(buf); err != nil {
		return Request{}, err
	}
	return req, nil
}

// WriteRequest writes exactly one request.
func WriteRequest(w io.Writer, req Request) error {
	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: write request: %v", ErrChannelBroken, err)
	}
	return nil
}

// ReadStatus reads one response.
func ReadStatus(r io.Reader) (Status, error) {
	var v int32
	if err := binary.Read(r, binary.NativeEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: read status: %v", ErrChannelBroken, err)
	}
	return Status(v), nil
}

// WriteStatus writes one response.
func WriteStatus(w io.Writer, s Status) error {
	buf := make([]byte, ResponseSize)
	binary.NativeEndian.PutUint32(buf, uint32(int32(s)))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write status: %v", ErrChannelBroken, err)
	}
	return nil
}

// ValidName reports whether name can be carried in an EXEC_TASK request.
func ValidName(name string) bool {
	return name != "" && len(name) <= MaxNameLen && bytes.IndexByte([]byte(name), 0) < 0
}
