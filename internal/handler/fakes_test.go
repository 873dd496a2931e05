package handler

import (
	"fmt"
	"sync"

	"usb-serial-service/internal/model"
	"usb-serial-service/internal/service"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string

	status    service.Status
	devices   []model.DeviceDescriptor
	listErr   error
	supported bool
	supErr    error
	settings  model.ConnectionConfig
}

func (f *fakeController) record(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) StartService()          { f.record("StartService") }
func (f *fakeController) StopService()           { f.record("StopService") }
func (f *fakeController) Status() service.Status { return f.status }
func (f *fakeController) IsSupported(name string) (bool, error) {
	return f.supported, f.supErr
}
func (f *fakeController) ListDevices() ([]model.DeviceDescriptor, error) {
	return f.devices, f.listErr
}
func (f *fakeController) Connect(name string, baudRate int) {
	f.record("Connect(%s,%d)", name, baudRate)
}
func (f *fakeController) Disconnect()                { f.record("Disconnect") }
func (f *fakeController) WriteBytes(data []int)      { f.record("WriteBytes(%v)", data) }
func (f *fakeController) WriteString(text string)    { f.record("WriteString(%s)", text) }
func (f *fakeController) WriteBase64(text string)    { f.record("WriteBase64(%s)", text) }
func (f *fakeController) WriteHexString(text string) { f.record("WriteHexString(%s)", text) }
func (f *fakeController) Settings() model.ConnectionConfig {
	return f.settings
}
func (f *fakeController) BaudRate() int                 { return 9600 }
func (f *fakeController) SetDataBit(v int)              { f.record("SetDataBit(%d)", v) }
func (f *fakeController) SetStopBit(v int)              { f.record("SetStopBit(%d)", v) }
func (f *fakeController) SetParity(v int)               { f.record("SetParity(%d)", v) }
func (f *fakeController) SetFlowControl(v int)          { f.record("SetFlowControl(%d)", v) }
func (f *fakeController) SetAutoConnect(v bool)         { f.record("SetAutoConnect(%t)", v) }
func (f *fakeController) SetAutoConnectBaudRate(v int)  { f.record("SetAutoConnectBaudRate(%d)", v) }
func (f *fakeController) SetInterface(v int)            { f.record("SetInterface(%d)", v) }
func (f *fakeController) SetReturnedDataType(v int)     { f.record("SetReturnedDataType(%d)", v) }
func (f *fakeController) SetDriver(name string)         { f.record("SetDriver(%s)", name) }
func (f *fakeController) SetReadBufferSize(v int)       { f.record("SetReadBufferSize(%d)", v) }
func (f *fakeController) LoadDefaultConnectionSetting() { f.record("LoadDefaultConnectionSetting") }

type fakeLister struct {
	devices []model.DeviceDescriptor
	err     error
}

func (f *fakeLister) ListDevices() ([]model.DeviceDescriptor, error) {
	return f.devices, f.err
}
