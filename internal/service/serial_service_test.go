package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usb-serial-service/internal/model"
	"usb-serial-service/internal/usbhost"
)

func TestStartService(t *testing.T) {
	f := newFixture(t, ftdiDevice)

	assert.False(t, f.svc.IsServiceStarted())
	f.svc.StartService()
	f.svc.StartService()

	assert.True(t, f.svc.IsServiceStarted())
	require.Equal(t, 1, f.sink.count(model.EventServiceStarted))
	assert.Equal(t, model.ServiceStartedPayload{DeviceAttached: true}, f.sink.snapshot()[0].Payload)
}

func TestStartService_NoDevices(t *testing.T) {
	f := newFixture(t)
	f.svc.StartService()
	assert.Equal(t, model.ServiceStartedPayload{DeviceAttached: false}, f.sink.snapshot()[0].Payload)
}

func TestConnect_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		start   bool
		device  string
		baud    int
		code    model.ErrorCode
		message string
	}{
		{"service not started", false, ftdiDevice.SystemName, 9600, model.ErrorUsbServiceNotStarted, "Usb service not started. Please first start Usb service!"},
		{"empty device name", true, "", 9600, model.ErrorConnectDeviceNameInvalid, "Device name cannot be empty or null"},
		{"zero baud rate", true, ftdiDevice.SystemName, 0, model.ErrorConnectBaudrateEmpty, "BaudRate cannot be empty"},
		{"unknown device", true, "/dev/ttyUSB7", 9600, model.ErrorXDeviceNotFound, "No device with name /dev/ttyUSB7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ftdiDevice)
			if tt.start {
				f.svc.StartService()
			}

			f.svc.Connect(tt.device, tt.baud)

			assert.Equal(t, StateIdle, f.svc.State())
			assert.Empty(t, f.host.permissionRequests())
			payload := f.sink.lastError()
			assert.Equal(t, tt.code, payload.ErrorCode)
			assert.Equal(t, tt.message, payload.ErrorMessage)
			assert.False(t, payload.Status)
		})
	}
}

func TestConnect_Success(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()
	f.svc.SetParity(int(model.ParityEven))

	f.connect(t, ftdiDevice, 115200)

	assert.Equal(t, []model.EventName{
		model.EventServiceStarted,
		model.EventPermissionGranted,
		model.EventConnected,
	}, f.sink.names())
	assert.Equal(t, model.LineSettings{
		BaudRate:    115200,
		DataBits:    model.DataBits8,
		StopBits:    model.StopBits1,
		Parity:      model.ParityEven,
		FlowControl: model.FlowControlOff,
	}, f.driver.lineSettings())
	assert.Equal(t, model.DriverAuto, f.selector.lastName)
	assert.Equal(t, model.InterfaceUnspecified, f.selector.lastIface)

	status := f.svc.Status()
	assert.True(t, status.Open)
	assert.Equal(t, "connected", status.State)
	require.NotNil(t, status.Device)
	assert.Equal(t, ftdiDevice.SystemName, status.Device.SystemName)
	assert.Equal(t, "ftdi", status.Driver)

	f.svc.Disconnect()
	assert.False(t, f.svc.IsOpen())
	assert.Equal(t, StateIdle, f.svc.State())
	assert.True(t, f.driver.isClosed())
	assert.Equal(t, 1, f.sink.count(model.EventDisconnected))
}

func TestConnect_TwiceYieldsOneConnection(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()

	f.svc.Connect(ftdiDevice.SystemName, 9600)
	f.svc.Connect(ftdiDevice.SystemName, 9600)
	assert.Equal(t, []model.ErrorCode{model.ErrorSerialportAlreadyConnected}, f.sink.errorCodes())

	f.grant(ftdiDevice, true)
	f.sink.waitFor(t, model.EventConnected, 1)

	f.svc.Connect(ftdiDevice.SystemName, 9600)
	assert.Equal(t, []model.ErrorCode{
		model.ErrorSerialportAlreadyConnected,
		model.ErrorSerialportAlreadyConnected,
	}, f.sink.errorCodes())
	assert.Equal(t, 1, f.sink.count(model.EventConnected))
	assert.Len(t, f.host.permissionRequests(), 1)
}

func TestConnect_Concurrent(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Connect(ftdiDevice.SystemName, 9600)
		}()
	}
	wg.Wait()

	require.Len(t, f.host.permissionRequests(), 1)
	assert.Len(t, f.sink.errorCodes(), callers-1)

	f.grant(ftdiDevice, true)
	f.sink.waitFor(t, model.EventConnected, 1)
	assert.Equal(t, 1, f.sink.count(model.EventConnected))
}

func TestConnect_PermissionDenied(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()

	f.svc.Connect(ftdiDevice.SystemName, 9600)
	f.grant(ftdiDevice, false)

	assert.Equal(t, StateIdle, f.svc.State())
	assert.Equal(t, []model.ErrorCode{model.ErrorUserDidNotAllowToConnect}, f.sink.errorCodes())
	assert.Nil(t, f.svc.Status().Device)
}

func TestConnect_StalePermissionIgnored(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()

	f.grant(ftdiDevice, true)
	assert.Equal(t, StateIdle, f.svc.State())
	assert.Equal(t, 0, f.sink.count(model.EventPermissionGranted))
}

func TestConnect_OpenFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		code    model.ErrorCode
		closed bool
	}{
		{"selector failure", func(f *fixture) { f.selector.err = errBoom }, model.ErrorCouldNotOpenSerialport, false},
		{"open failure", func(f *fixture) { f.driver.openErr = errBoom }, model.ErrorCouldNotOpenSerialport, false},
		{"configure failure", func(f *fixture) { f.driver.configureErr = errBoom }, model.ErrorConnectionFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ftdiDevice)
			tt.setup(f)
			f.svc.StartService()

			f.svc.Connect(ftdiDevice.SystemName, 9600)
			f.grant(ftdiDevice, true)
			f.sink.waitFor(t, model.EventError, 1)

			assert.Equal(t, []model.ErrorCode{tt.code}, f.sink.errorCodes())
			assert.Equal(t, StateIdle, f.svc.State())
			assert.False(t, f.svc.IsOpen())
			assert.Equal(t, tt.closed, f.driver.isClosed())
			assert.Equal(t, 0, f.sink.count(model.EventConnected))
		})
	}
}

func TestConnect_ConfigureFailureMessage(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.driver.configureErr = errors.New("unsupported baud")
	f.svc.StartService()

	f.svc.Connect(ftdiDevice.SystemName, 9600)
	f.grant(ftdiDevice, true)
	f.sink.waitFor(t, model.EventError, 1)

	assert.Equal(t, "Connection Failed Exception: unsupported baud", f.sink.lastError().ErrorMessage)
}

func TestDisconnect_Preconditions(t *testing.T) {
	f := newFixture(t, ftdiDevice)

	f.svc.Disconnect()
	f.svc.StartService()
	f.svc.Disconnect()

	assert.Equal(t, []model.ErrorCode{
		model.ErrorUsbServiceNotStarted,
		model.ErrorSerialportAlreadyDisconnected,
	}, f.sink.errorCodes())
}

func TestStopService_WhileConnectedRefused(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()
	f.connect(t, ftdiDevice, 9600)

	before := f.svc.Status()
	f.svc.StopService()

	assert.Equal(t, []model.ErrorCode{model.ErrorServiceStopFailed}, f.sink.errorCodes())
	assert.Equal(t, before, f.svc.Status())
	assert.True(t, f.svc.IsServiceStarted())
	assert.True(t, f.svc.IsOpen())
	assert.Equal(t, 0, f.sink.count(model.EventServiceStopped))
}

func TestStopService(t *testing.T) {
	f := newFixture(t, ftdiDevice)

	f.svc.StopService()
	assert.Empty(t, f.sink.snapshot())

	f.svc.StartService()
	f.svc.StopService()
	assert.False(t, f.svc.IsServiceStarted())
	assert.Equal(t, 1, f.sink.count(model.EventServiceStopped))
}

func TestStopService_CancelsPendingPermission(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()
	f.svc.Connect(ftdiDevice.SystemName, 9600)

	f.svc.StopService()
	assert.Equal(t, StateIdle, f.svc.State())
	assert.False(t, f.svc.IsServiceStarted())

	f.grant(ftdiDevice, true)
	assert.Equal(t, 0, f.sink.count(model.EventPermissionGranted))
	assert.Equal(t, StateIdle, f.svc.State())
}

func TestDetach_DuringOpeningDiscardsResult(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.driver.openGate = make(chan struct{})
	f.svc.StartService()

	f.svc.Connect(ftdiDevice.SystemName, 9600)
	f.grant(ftdiDevice, true)
	require.Equal(t, StateOpening, f.svc.State())

	f.svc.HandleNotification(usbhost.Notification{Kind: usbhost.NotificationDetached, Device: ftdiDevice})
	assert.Equal(t, StateIdle, f.svc.State())

	close(f.driver.openGate)
	require.Eventually(t, f.driver.isClosed, time.Second, time.Millisecond)

	assert.Equal(t, 0, f.sink.count(model.EventConnected))
	assert.Equal(t, 1, f.sink.count(model.EventDeviceDetached))
	assert.Empty(t, f.sink.errorCodes())
	assert.False(t, f.svc.IsOpen())
}

func TestDetach_WhileConnected(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()
	f.connect(t, ftdiDevice, 9600)

	f.svc.HandleNotification(usbhost.Notification{Kind: usbhost.NotificationDetached, Device: ftdiDevice})

	names := f.sink.names()
	assert.Equal(t, []model.EventName{model.EventDeviceDetached, model.EventDisconnected}, names[len(names)-2:])
	assert.False(t, f.svc.IsOpen())
	assert.True(t, f.driver.isClosed())
}

func TestDetach_OtherDeviceKeepsConnection(t *testing.T) {
	other := model.DeviceDescriptor{SystemName: "/dev/ttyACM0", VendorID: 0x2341, ProductID: 0x0043}
	f := newFixture(t, ftdiDevice, other)
	f.svc.StartService()
	f.connect(t, ftdiDevice, 9600)

	f.svc.HandleNotification(usbhost.Notification{Kind: usbhost.NotificationDetached, Device: other})

	assert.True(t, f.svc.IsOpen())
	assert.Equal(t, 1, f.sink.count(model.EventDeviceDetached))
	assert.Equal(t, 0, f.sink.count(model.EventDisconnected))
}

func TestNotificationsIgnoredWhenStopped(t *testing.T) {
	f := newFixture(t, ftdiDevice)

	f.svc.HandleNotification(usbhost.Notification{Kind: usbhost.NotificationAttached, Device: ftdiDevice})
	f.svc.HandleNotification(usbhost.Notification{Kind: usbhost.NotificationDetached, Device: ftdiDevice})

	assert.Empty(t, f.sink.snapshot())
}

func TestReadData(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()
	f.connect(t, ftdiDevice, 9600)

	f.driver.deliver([]byte{0, 255, 16})
	f.sink.waitFor(t, model.EventReadData, 1)

	f.svc.SetReturnedDataType(int(model.ReturnedDataTypeHexString))
	f.driver.deliver([]byte{0, 255, 16})
	f.sink.waitFor(t, model.EventReadData, 2)

	var payloads []interface{}
	for _, e := range f.sink.snapshot() {
		if e.Name == model.EventReadData {
			payloads = append(payloads, e.Payload.(model.ReadDataPayload).Payload)
		}
	}
	assert.Equal(t, []interface{}{[]int{0, 255, 16}, "00FF10"}, payloads)
}

func TestAutoConnect_OnStart(t *testing.T) {
	f := newFixture(t, rootHub, ftdiDevice)
	f.svc.SetAutoConnect(true)
	f.svc.SetAutoConnectBaudRate(19200)

	f.svc.StartService()

	requests := f.host.permissionRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, ftdiDevice, requests[0])
	assert.Equal(t, ftdiDevice.SystemName, f.svc.Status().AutoConnect)

	f.grant(ftdiDevice, true)
	f.sink.waitFor(t, model.EventConnected, 1)
	assert.Equal(t, 19200, f.driver.lineSettings().BaudRate)
}

func TestAutoConnect_OnlyDenylisted(t *testing.T) {
	f := newFixture(t, rootHub)
	f.svc.SetAutoConnect(true)

	f.svc.StartService()
	assert.Empty(t, f.host.permissionRequests())
	assert.Equal(t, StateIdle, f.svc.State())
}

func TestAutoConnect_OnAttach(t *testing.T) {
	f := newFixture(t)
	f.svc.SetAutoConnect(true)
	f.svc.StartService()
	require.Empty(t, f.host.permissionRequests())

	f.host.mu.Lock()
	f.host.devices = []model.DeviceDescriptor{ftdiDevice}
	f.host.mu.Unlock()
	f.svc.HandleNotification(usbhost.Notification{Kind: usbhost.NotificationAttached, Device: ftdiDevice})

	assert.Equal(t, 1, f.sink.count(model.EventDeviceAttached))
	assert.Len(t, f.host.permissionRequests(), 1)
	assert.Equal(t, StatePermissionRequested, f.svc.State())
}

func TestListDevices(t *testing.T) {
	f := newFixture(t, ftdiDevice)

	_, err := f.svc.ListDevices()
	assert.ErrorIs(t, err, ErrServiceNotStarted)

	f.svc.StartService()
	devices, err := f.svc.ListDevices()
	require.NoError(t, err)
	assert.Equal(t, []model.DeviceDescriptor{ftdiDevice}, devices)
}

func TestIsSupported(t *testing.T) {
	f := newFixture(t, ftdiDevice)

	ok, err := f.svc.IsSupported(ftdiDevice.SystemName)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.IsSupported("/dev/none")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestRun_ConsumesNotifications(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	f.host.notifications <- usbhost.Notification{Kind: usbhost.NotificationAttached, Device: ftdiDevice}
	f.sink.waitFor(t, model.EventDeviceAttached, 1)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestClose_TearsDownConnection(t *testing.T) {
	f := newFixture(t, ftdiDevice)
	f.svc.StartService()
	f.connect(t, ftdiDevice, 9600)

	require.NoError(t, f.svc.Close())

	assert.False(t, f.svc.IsOpen())
	assert.False(t, f.svc.IsServiceStarted())
	assert.True(t, f.driver.isClosed())
	assert.Equal(t, 1, f.sink.count(model.EventDisconnected))
	assert.Equal(t, 1, f.sink.count(model.EventServiceStopped))
}
