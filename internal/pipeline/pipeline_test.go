package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Notify(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) snapshot() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func (s *recordingSink) waitFor(t *testing.T, n int) []model.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.snapshot()) >= n }, time.Second, time.Millisecond)
	return s.snapshot()
}

func fixedMode(mode model.ReturnedDataType) func() model.ReturnedDataType {
	return func() model.ReturnedDataType { return mode }
}

func TestTransform(t *testing.T) {
	payload, ok := Transform(model.ReturnedDataTypeIntArray, []byte{0x00, 0x7f, 0xff})
	require.True(t, ok)
	assert.Equal(t, []int{0, 127, 255}, payload)

	payload, ok = Transform(model.ReturnedDataTypeHexString, []byte{0x0a, 0xff})
	require.True(t, ok)
	assert.Equal(t, "0AFF", payload)

	_, ok = Transform(model.ReturnedDataType(7), []byte{1})
	assert.False(t, ok)
}

func TestReadPipeline_OrderPreserved(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, fixedMode(model.ReturnedDataTypeIntArray), 0, zap.NewNop())
	p.Start()
	defer p.Stop()

	for i := 0; i < 100; i++ {
		p.OnData([]byte{byte(i)})
	}

	got := sink.waitFor(t, 100)
	for i, ev := range got {
		assert.Equal(t, model.EventReadData, ev.Name)
		assert.Equal(t, model.ReadDataPayload{Payload: []int{i}}, ev.Payload)
	}
}

func TestReadPipeline_CopiesChunk(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, fixedMode(model.ReturnedDataTypeHexString), 0, zap.NewNop())

	buf := []byte{0x01, 0x02}
	p.OnData(buf)
	buf[0] = 0xff
	p.Start()
	defer p.Stop()

	got := sink.waitFor(t, 1)
	assert.Equal(t, model.ReadDataPayload{Payload: "0102"}, got[0].Payload)
}

func TestReadPipeline_ModeChangesLive(t *testing.T) {
	sink := &recordingSink{}
	var mode atomic.Int32
	mode.Store(int32(model.ReturnedDataTypeIntArray))

	p := New(sink, func() model.ReturnedDataType { return model.ReturnedDataType(mode.Load()) }, 0, zap.NewNop())
	p.Start()
	defer p.Stop()

	p.OnData([]byte{0x41})
	sink.waitFor(t, 1)
	mode.Store(int32(model.ReturnedDataTypeHexString))
	p.OnData([]byte{0x41})

	got := sink.waitFor(t, 2)
	assert.Equal(t, model.ReadDataPayload{Payload: []int{0x41}}, got[0].Payload)
	assert.Equal(t, model.ReadDataPayload{Payload: "41"}, got[1].Payload)
}

func TestReadPipeline_UnknownModeDropsSilently(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, fixedMode(model.ReturnedDataType(0)), 0, zap.NewNop())
	p.Start()

	p.OnData([]byte{1, 2, 3})
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	assert.Empty(t, sink.snapshot())
}

func TestReadPipeline_TransformPanicContinues(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, fixedMode(model.ReturnedDataTypeIntArray), 0, zap.NewNop())

	calls := 0
	p.transform = func(mode model.ReturnedDataType, data []byte) (interface{}, bool) {
		calls++
		if calls == 1 {
			panic("bad chunk")
		}
		return Transform(mode, data)
	}
	p.Start()
	defer p.Stop()

	p.OnData([]byte{1})
	p.OnData([]byte{2})

	got := sink.waitFor(t, 2)
	require.Equal(t, model.EventError, got[0].Name)
	payload := got[0].Payload.(model.ErrorPayload)
	assert.Equal(t, model.ErrorNotReadedData, payload.ErrorCode)
	assert.Contains(t, payload.ErrorMessage, "bad chunk")
	assert.False(t, payload.Status)

	assert.Equal(t, model.EventReadData, got[1].Name)
	assert.Equal(t, model.ReadDataPayload{Payload: []int{2}}, got[1].Payload)
}

func TestReadPipeline_ReadErrorReported(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, fixedMode(model.ReturnedDataTypeIntArray), 0, zap.NewNop())
	p.Start()
	defer p.Stop()

	p.OnError(errors.New("input/output error"))

	got := sink.waitFor(t, 1)
	payload := got[0].Payload.(model.ErrorPayload)
	assert.Equal(t, model.ErrorNotReadedData, payload.ErrorCode)
	assert.Contains(t, payload.ErrorMessage, "input/output error")
}

func TestReadPipeline_BoundedDropsOldest(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, fixedMode(model.ReturnedDataTypeIntArray), 2, zap.NewNop())

	p.OnData([]byte{1})
	p.OnData([]byte{2})
	p.OnData([]byte{3})
	assert.Equal(t, uint64(1), p.Dropped())

	p.Start()
	defer p.Stop()

	got := sink.waitFor(t, 2)
	assert.Equal(t, model.ReadDataPayload{Payload: []int{2}}, got[0].Payload)
	assert.Equal(t, model.ReadDataPayload{Payload: []int{3}}, got[1].Payload)
}

func TestReadPipeline_StopDiscardsAndIgnoresLateData(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, fixedMode(model.ReturnedDataTypeIntArray), 0, zap.NewNop())
	p.Stop()
	p.Stop()

	p.OnData([]byte{1})
	p.Start()
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}
