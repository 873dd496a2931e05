package driver

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// testablePort is a serial.Port with blocking reads fed by addReadData
type testablePort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuffer  bytes.Buffer
	writeBuffer bytes.Buffer
	readError   error
	writeError  error

	mode   *serial.Mode
	rts    bool
	dtr    bool
	closed bool
}

func newTestablePort() *testablePort {
	p := &testablePort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *testablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.readError == nil && p.readBuffer.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.readError != nil {
		err := p.readError
		p.readError = nil
		return 0, err
	}
	return p.readBuffer.Read(b)
}

func (p *testablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.writeError != nil {
		return 0, p.writeError
	}
	return p.writeBuffer.Write(b)
}

func (p *testablePort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	return nil
}

func (p *testablePort) SetDTR(dtr bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = dtr
	return nil
}

func (p *testablePort) SetRTS(rts bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rts = rts
	return nil
}

func (p *testablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

func (p *testablePort) Drain() error                                         { return nil }
func (p *testablePort) ResetInputBuffer() error                              { return nil }
func (p *testablePort) ResetOutputBuffer() error                             { return nil }
func (p *testablePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (p *testablePort) SetReadTimeout(time.Duration) error                   { return nil }
func (p *testablePort) Break(time.Duration) error                            { return nil }

func (p *testablePort) addReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuffer.Write(data)
	p.readCond.Signal()
}

func (p *testablePort) failRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readError = err
	p.readCond.Signal()
}

func (p *testablePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.writeBuffer.Bytes()...)
}

func (p *testablePort) currentMode() *serial.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func openerFor(port serial.Port) PortOpener {
	return func(string, *serial.Mode) (serial.Port, error) {
		return port, nil
	}
}

func (p *testablePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
