// internal/driver/serial_driver.go
package driver

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

// Software flow control characters
const (
	XON  byte = 0x11
	XOFF byte = 0x13
)

// PortOpener opens an OS serial port
type PortOpener func(portName string, mode *serial.Mode) (serial.Port, error)

// PortDriver implements SerialDriver over an OS serial port
type PortDriver struct {
	name     model.DriverName
	portName string
	opener   PortOpener
	logger   *zap.Logger

	mutex    sync.RWMutex
	port     serial.Port
	settings model.LineSettings
	reading  bool

	closed  atomic.Bool
	xonXoff atomic.Bool
	paused  atomic.Bool
}

// NewPortDriver creates a driver for portName; a nil opener uses serial.Open
func NewPortDriver(name model.DriverName, portName string, opener PortOpener, logger *zap.Logger) *PortDriver {
	if opener == nil {
		opener = serial.Open
	}
	return &PortDriver{
		name:     name,
		portName: portName,
		opener:   opener,
		logger: logger.With(
			zap.String("driver", string(name)),
			zap.String("port", portName),
		),
	}
}

// Name returns the chipset driver name
func (d *PortDriver) Name() string {
	return string(d.name)
}

// PortName returns the OS port the driver is bound to
func (d *PortDriver) PortName() string {
	return d.portName
}

// Open opens the port with 9600 8N1 until Configure is called
func (d *PortDriver) Open() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.port != nil {
		return nil
	}

	d.logger.Info("Opening serial port")

	port, err := d.opener(d.portName, &serial.Mode{
		BaudRate: model.DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		d.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port %s: %w", d.portName, err)
	}

	d.port = port
	d.closed.Store(false)
	d.logger.Info("Serial port opened successfully")
	return nil
}

// Configure applies line settings to the open port
func (d *PortDriver) Configure(settings model.LineSettings) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.port == nil {
		return ErrNotOpen
	}

	mode, err := toMode(settings)
	if err != nil {
		return err
	}
	if err := d.port.SetMode(mode); err != nil {
		return fmt.Errorf("failed to set serial mode: %w", err)
	}

	switch settings.FlowControl {
	case model.FlowControlRTSCTS:
		if err := d.port.SetRTS(true); err != nil {
			return fmt.Errorf("failed to assert RTS: %w", err)
		}
	case model.FlowControlDSRDTR:
		if err := d.port.SetDTR(true); err != nil {
			return fmt.Errorf("failed to assert DTR: %w", err)
		}
	}
	d.xonXoff.Store(settings.FlowControl == model.FlowControlXonXoff)
	d.paused.Store(false)
	d.settings = settings

	d.logger.Info("Serial port configured",
		zap.Int("baud_rate", settings.BaudRate),
		zap.Int("data_bits", int(settings.DataBits)),
		zap.Stringer("stop_bits", settings.StopBits),
		zap.Stringer("parity", settings.Parity),
		zap.Stringer("flow_control", settings.FlowControl),
	)
	return nil
}

// Settings returns the last applied line settings
func (d *PortDriver) Settings() model.LineSettings {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.settings
}

// StartReading starts the read loop. Calling it again is a no-op.
func (d *PortDriver) StartReading(onData func([]byte), onError func(error), bufferSize int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.port == nil {
		return ErrNotOpen
	}
	if d.reading {
		return nil
	}
	if bufferSize < 1 {
		bufferSize = model.DefaultReadBufferSize
	}
	d.reading = true

	go d.readLoop(d.port, onData, onError, bufferSize)
	return nil
}

func (d *PortDriver) readLoop(port serial.Port, onData func([]byte), onError func(error), bufferSize int) {
	buffer := make([]byte, bufferSize)
	for {
		n, err := port.Read(buffer)
		if d.closed.Load() {
			return
		}
		if err != nil {
			d.logger.Warn("Serial read failed", zap.Error(err))
			onError(fmt.Errorf("failed to read from serial port: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		chunk := buffer[:n]
		if d.xonXoff.Load() {
			chunk = d.filterFlowControl(chunk)
			if len(chunk) == 0 {
				continue
			}
		}

		data := make([]byte, len(chunk))
		copy(data, chunk)
		onData(data)
	}
}

// filterFlowControl tracks and strips XON/XOFF characters in place
func (d *PortDriver) filterFlowControl(chunk []byte) []byte {
	if bytes.IndexByte(chunk, XON) < 0 && bytes.IndexByte(chunk, XOFF) < 0 {
		return chunk
	}
	out := chunk[:0]
	for _, b := range chunk {
		switch b {
		case XOFF:
			d.paused.Store(true)
		case XON:
			d.paused.Store(false)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Write writes data to the port
func (d *PortDriver) Write(data []byte) (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if d.port == nil {
		return 0, ErrNotOpen
	}
	if d.xonXoff.Load() && d.paused.Load() {
		return 0, ErrTransmitPaused
	}

	n, err := d.port.Write(data)
	if err != nil {
		d.logger.Error("Serial write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	d.logger.Debug("Serial write completed", zap.Int("bytes", n))
	return n, nil
}

// Close closes the port; the read loop exits without reporting an error
func (d *PortDriver) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.port == nil {
		return nil
	}

	d.closed.Store(true)
	err := d.port.Close()
	d.port = nil
	d.reading = false
	if err != nil {
		d.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	d.logger.Info("Serial port closed successfully")
	return nil
}

func toMode(settings model.LineSettings) (*serial.Mode, error) {
	if settings.BaudRate < 1 {
		return nil, fmt.Errorf("invalid baud rate: %d", settings.BaudRate)
	}
	if !settings.DataBits.Valid() {
		return nil, fmt.Errorf("invalid data bits: %d", settings.DataBits)
	}

	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: int(settings.DataBits),
	}

	switch settings.StopBits {
	case model.StopBits1:
		mode.StopBits = serial.OneStopBit
	case model.StopBits15:
		mode.StopBits = serial.OnePointFiveStopBits
	case model.StopBits2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits: %d", settings.StopBits)
	}

	switch settings.Parity {
	case model.ParityNone:
		mode.Parity = serial.NoParity
	case model.ParityOdd:
		mode.Parity = serial.OddParity
	case model.ParityEven:
		mode.Parity = serial.EvenParity
	case model.ParityMark:
		mode.Parity = serial.MarkParity
	case model.ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity: %d", settings.Parity)
	}

	switch settings.FlowControl {
	case model.FlowControlRTSCTS:
		mode.InitialStatusBits = &serial.ModemOutputBits{RTS: true}
	case model.FlowControlDSRDTR:
		mode.InitialStatusBits = &serial.ModemOutputBits{DTR: true}
	}

	return mode, nil
}
