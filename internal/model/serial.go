// internal/model/serial.go
package model

import "fmt"

// DeviceDescriptor is an immutable snapshot of one attached USB serial port
type DeviceDescriptor struct {
	SystemName   string `json:"name"`
	VendorID     uint16 `json:"vendorId"`
	ProductID    uint16 `json:"productId"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// USBID returns the vendor:product pair formatted as lsusb does
func (d DeviceDescriptor) USBID() string {
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// DataBits represents the character size
type DataBits int

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

// Valid reports whether d is a supported character size
func (d DataBits) Valid() bool {
	return d >= DataBits5 && d <= DataBits8
}

// StopBits represents the stop bit setting; the numbering follows the
// bridge constants where 3 means one and a half.
type StopBits int

const (
	StopBits1  StopBits = 1
	StopBits2  StopBits = 2
	StopBits15 StopBits = 3
)

// Valid reports whether s is a supported stop bit setting
func (s StopBits) Valid() bool {
	return s == StopBits1 || s == StopBits2 || s == StopBits15
}

func (s StopBits) String() string {
	switch s {
	case StopBits1:
		return "1"
	case StopBits15:
		return "1.5"
	case StopBits2:
		return "2"
	default:
		return fmt.Sprintf("StopBits(%d)", int(s))
	}
}

// Parity represents the parity mode
type Parity int

const (
	ParityNone  Parity = 0
	ParityOdd   Parity = 1
	ParityEven  Parity = 2
	ParityMark  Parity = 3
	ParitySpace Parity = 4
)

// Valid reports whether p is a supported parity mode
func (p Parity) Valid() bool {
	return p >= ParityNone && p <= ParitySpace
}

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("Parity(%d)", int(p))
	}
}

// FlowControl represents the flow control mode
type FlowControl int

const (
	FlowControlOff     FlowControl = 0
	FlowControlRTSCTS  FlowControl = 1
	FlowControlDSRDTR  FlowControl = 2
	FlowControlXonXoff FlowControl = 3
)

// Valid reports whether f is a supported flow control mode
func (f FlowControl) Valid() bool {
	return f >= FlowControlOff && f <= FlowControlXonXoff
}

func (f FlowControl) String() string {
	switch f {
	case FlowControlOff:
		return "off"
	case FlowControlRTSCTS:
		return "rts_cts"
	case FlowControlDSRDTR:
		return "dsr_dtr"
	case FlowControlXonXoff:
		return "xon_xoff"
	default:
		return fmt.Sprintf("FlowControl(%d)", int(f))
	}
}

// ReturnedDataType selects how received bytes are encoded in read events
type ReturnedDataType int

const (
	ReturnedDataTypeIntArray  ReturnedDataType = 1
	ReturnedDataTypeHexString ReturnedDataType = 2
)

// Valid reports whether t is one of the two read encodings
func (t ReturnedDataType) Valid() bool {
	return t == ReturnedDataTypeIntArray || t == ReturnedDataTypeHexString
}

// DriverName identifies a chipset driver
type DriverName string

const (
	DriverAuto   DriverName = "auto"
	DriverFTDI   DriverName = "ftdi"
	DriverCP210x DriverName = "cp210x"
	DriverPL2303 DriverName = "pl2303"
	DriverCH34x  DriverName = "ch34x"
	DriverCDC    DriverName = "cdc"
)

// SupportedDrivers is the fixed supported set, in auto-probe priority order
var SupportedDrivers = []DriverName{DriverFTDI, DriverCP210x, DriverPL2303, DriverCH34x, DriverCDC}

// ParseDriverName validates a driver name against "auto" and the supported
// set. Matching is exact and case-sensitive.
func ParseDriverName(name string) (DriverName, bool) {
	if name == string(DriverAuto) {
		return DriverAuto, true
	}
	for _, d := range SupportedDrivers {
		if string(d) == name {
			return d, true
		}
	}
	return "", false
}

// InterfaceUnspecified means the named port itself is used
const InterfaceUnspecified = -1

// LineSettings is the line configuration applied to an open driver
type LineSettings struct {
	BaudRate    int         `json:"baudRate"`
	DataBits    DataBits    `json:"dataBits"`
	StopBits    StopBits    `json:"stopBits"`
	Parity      Parity      `json:"parity"`
	FlowControl FlowControl `json:"flowControl"`
}

// ConnectionConfig holds every caller-adjustable connection setting
type ConnectionConfig struct {
	DataBits            DataBits         `json:"dataBits"`
	StopBits            StopBits         `json:"stopBits"`
	Parity              Parity           `json:"parity"`
	FlowControl         FlowControl      `json:"flowControl"`
	ReadBufferSize      int              `json:"readBufferSize"`
	Driver              DriverName       `json:"driver"`
	InterfaceIndex      int              `json:"interface"`
	ReturnedDataType    ReturnedDataType `json:"returnedDataType"`
	AutoConnect         bool             `json:"autoConnect"`
	AutoConnectBaudRate int              `json:"autoConnectBaudRate"`
}

// Defaults used when nothing else is configured
const (
	DefaultBaudRate       = 9600
	DefaultReadBufferSize = 16 * 1024
)

// DefaultConnectionConfig returns the bridge defaults
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		DataBits:            DataBits8,
		StopBits:            StopBits1,
		Parity:              ParityNone,
		FlowControl:         FlowControlOff,
		ReadBufferSize:      DefaultReadBufferSize,
		Driver:              DriverAuto,
		InterfaceIndex:      InterfaceUnspecified,
		ReturnedDataType:    ReturnedDataTypeIntArray,
		AutoConnectBaudRate: DefaultBaudRate,
	}
}

// Validate checks every field range
func (c ConnectionConfig) Validate() error {
	if !c.DataBits.Valid() {
		return fmt.Errorf("invalid data bits: %d", c.DataBits)
	}
	if !c.StopBits.Valid() {
		return fmt.Errorf("invalid stop bits: %d", c.StopBits)
	}
	if !c.Parity.Valid() {
		return fmt.Errorf("invalid parity: %d", c.Parity)
	}
	if !c.FlowControl.Valid() {
		return fmt.Errorf("invalid flow control: %d", c.FlowControl)
	}
	if c.ReadBufferSize < 1 {
		return fmt.Errorf("invalid read buffer size: %d", c.ReadBufferSize)
	}
	if _, ok := ParseDriverName(string(c.Driver)); !ok {
		return fmt.Errorf("invalid driver: %q", c.Driver)
	}
	if c.InterfaceIndex < InterfaceUnspecified {
		return fmt.Errorf("invalid interface: %d", c.InterfaceIndex)
	}
	if !c.ReturnedDataType.Valid() {
		return fmt.Errorf("invalid returned data type: %d", c.ReturnedDataType)
	}
	if c.AutoConnectBaudRate < 1 {
		return fmt.Errorf("invalid auto-connect baud rate: %d", c.AutoConnectBaudRate)
	}
	return nil
}
