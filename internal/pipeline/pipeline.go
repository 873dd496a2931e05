// internal/pipeline/pipeline.go
package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"usb-serial-service/internal/codec"
	"usb-serial-service/internal/events"
	"usb-serial-service/internal/model"
)

type item struct {
	data []byte
	err  error
}

// ReadPipeline decouples the driver read callback from event emission.
// OnData never blocks; a single consumer emits chunks in arrival order.
type ReadPipeline struct {
	sink      events.Sink
	mode      func() model.ReturnedDataType
	transform func(model.ReturnedDataType, []byte) (interface{}, bool)
	queueSize int
	logger    *zap.Logger

	mutex   sync.Mutex
	cond    *sync.Cond
	queue   []item
	started bool
	stopped bool
	dropped uint64
	done    chan struct{}
}

// New creates a pipeline; mode is consulted per chunk so changes apply live.
// queueSize 0 means unbounded; otherwise the oldest chunk is dropped when full.
func New(sink events.Sink, mode func() model.ReturnedDataType, queueSize int, logger *zap.Logger) *ReadPipeline {
	p := &ReadPipeline{
		sink:      sink,
		mode:      mode,
		transform: Transform,
		queueSize: queueSize,
		logger:    logger.With(zap.String("component", "read-pipeline")),
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mutex)
	return p
}

// Start launches the consumer goroutine
func (p *ReadPipeline) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true
	go p.consume()
}

// OnData enqueues a copy of chunk
func (p *ReadPipeline) OnData(chunk []byte) {
	data := make([]byte, len(chunk))
	copy(data, chunk)
	p.enqueue(item{data: data})
}

// OnError enqueues a driver read failure so it is reported in order
func (p *ReadPipeline) OnError(err error) {
	p.enqueue(item{err: err})
}

func (p *ReadPipeline) enqueue(it item) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.stopped {
		return
	}
	if p.queueSize > 0 && len(p.queue) >= p.queueSize {
		p.queue = p.queue[1:]
		p.dropped++
		p.logger.Warn("Read queue full, dropping oldest chunk",
			zap.Int("queue_size", p.queueSize),
			zap.Uint64("dropped_total", p.dropped),
		)
	}
	p.queue = append(p.queue, it)
	p.cond.Signal()
}

// Stop discards pending chunks and waits for the consumer to exit.
// Must not be called from the sink.
func (p *ReadPipeline) Stop() {
	p.mutex.Lock()
	if p.stopped {
		p.mutex.Unlock()
		return
	}
	p.stopped = true
	p.queue = nil
	started := p.started
	p.cond.Broadcast()
	p.mutex.Unlock()

	if started {
		<-p.done
	}
}

// Dropped returns how many chunks were discarded because the queue was full
func (p *ReadPipeline) Dropped() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.dropped
}

func (p *ReadPipeline) consume() {
	defer close(p.done)

	for {
		p.mutex.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mutex.Unlock()
			return
		}
		it := p.queue[0]
		p.queue[0] = item{}
		p.queue = p.queue[1:]
		p.mutex.Unlock()

		p.dispatch(it)
	}
}

func (p *ReadPipeline) dispatch(it item) {
	if it.err != nil {
		p.sink.Notify(model.NewEvent(model.EventError,
			model.NewErrorPayload(model.ErrorNotReadedData, " "+it.err.Error())))
		return
	}

	payload, ok, err := p.safeTransform(p.mode(), it.data)
	if err != nil {
		p.logger.Error("Failed to transform read data", zap.Error(err))
		p.sink.Notify(model.NewEvent(model.EventError,
			model.NewErrorPayload(model.ErrorNotReadedData, " "+err.Error())))
		return
	}
	if !ok {
		return
	}
	p.sink.Notify(model.NewEvent(model.EventReadData, model.ReadDataPayload{Payload: payload}))
}

func (p *ReadPipeline) safeTransform(mode model.ReturnedDataType, data []byte) (payload interface{}, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	payload, ok = p.transform(mode, data)
	return payload, ok, nil
}

// Transform encodes a chunk for the given mode; unknown modes report false
func Transform(mode model.ReturnedDataType, data []byte) (interface{}, bool) {
	switch mode {
	case model.ReturnedDataTypeIntArray:
		return codec.BytesToInts(data), true
	case model.ReturnedDataTypeHexString:
		return codec.BytesToHex(data), true
	default:
		return nil, false
	}
}
