package control

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_WireLayout(t *testing.T) {
	data, err := Request{Op: OpKillTask, TaskID: 7, Name: "spin"}.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, RequestSize)
	assert.Equal(t, 68, RequestSize)

	assert.Equal(t, uint32(OpKillTask), binary.NativeEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(7), binary.NativeEndian.Uint32(data[4:8]))
	assert.Equal(t, "spin", string(data[8:12]))
	assert.Equal(t, make([]byte, NameSize-4), data[12:])
}

func TestRequest_Decode(t *testing.T) {
	data, err := Request{Op: OpExecTask, Name: strings.Repeat("x", MaxNameLen)}.MarshalBinary()
	require.NoError(t, err)

	var req Request
	require.NoError(t, req.UnmarshalBinary(data))
	assert.Equal(t, OpExecTask, req.Op)
	assert.Len(t, req.Name, MaxNameLen)

	// An unterminated field decodes to an over-long name.
	for i := 8; i < RequestSize; i++ {
		data[i] = 'y'
	}
	require.NoError(t, req.UnmarshalBinary(data))
	assert.Len(t, req.Name, NameSize)
	assert.False(t, ValidName(req.Name))

	assert.Error(t, req.UnmarshalBinary(data[:10]))
}

func TestRequest_EncodeRejectsBadNames(t *testing.T) {
	_, err := Request{Op: OpExecTask, Name: strings.Repeat("x", MaxNameLen+1)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrNameTooLong)

	_, err = Request{Op: OpExecTask, Name: "a\x00b"}.MarshalBinary()
	assert.Error(t, err)
}

func TestReadRequest_ShortRead(t *testing.T) {
	_, err := ReadRequest(bytes.NewReader(make([]byte, RequestSize-1)))
	assert.ErrorIs(t, err, ErrChannelBroken)

	_, err = ReadRequest(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrChannelBroken)
}

func TestStatus_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []Status{StatusOK, StatusNotFound, StatusInvalid, StatusSpawnFailed, StatusUnsupported, StatusInternal} {
		require.NoError(t, WriteStatus(&buf, s))
		got, err := ReadStatus(&buf)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ReadStatus(&buf)
	assert.ErrorIs(t, err, ErrChannelBroken)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWrite_BrokenChannel(t *testing.T) {
	assert.ErrorIs(t, WriteStatus(failingWriter{}, StatusOK), ErrChannelBroken)
	assert.ErrorIs(t, WriteRequest(failingWriter{}, Request{}), ErrChannelBroken)
	assert.True(t, errors.Is(WriteRequest(failingWriter{}, Request{Name: strings.Repeat("n", 80)}), ErrNameTooLong))
}

func TestOpcodeAndStatusNames(t *testing.T) {
	assert.Equal(t, "EXEC_TASK", OpExecTask.String())
	assert.Equal(t, "OP_42", Opcode(42).String())
	assert.Equal(t, "not_found", StatusNotFound.String())
	assert.Equal(t, Status(-38), StatusUnsupported)
	assert.Equal(t, Opcode(5), OpLowTask)
}
