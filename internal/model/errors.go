// internal/model/errors.go
package model

// ErrorCode is the stable numeric code reported in onError events
type ErrorCode int

const (
	ErrorDeviceNotFound                ErrorCode = 1
	ErrorConnectDeviceNameInvalid      ErrorCode = 2
	ErrorConnectBaudrateEmpty          ErrorCode = 3
	ErrorConnectionFailed              ErrorCode = 4
	ErrorCouldNotOpenSerialport        ErrorCode = 5
	ErrorDisconnectFailed              ErrorCode = 6
	ErrorSerialportAlreadyConnected    ErrorCode = 7
	ErrorSerialportAlreadyDisconnected ErrorCode = 8
	ErrorUsbServiceNotStarted          ErrorCode = 9
	ErrorXDeviceNotFound               ErrorCode = 10
	ErrorUserDidNotAllowToConnect      ErrorCode = 11
	ErrorServiceStopFailed             ErrorCode = 12
	ErrorThereIsNoConnection           ErrorCode = 13
	ErrorNotReadedData                 ErrorCode = 14
	ErrorDriverTypeNotFound            ErrorCode = 15
	ErrorWriteFailed                   ErrorCode = 16
	ErrorInvalidConfiguration          ErrorCode = 17
)

var errorMessages = map[ErrorCode]string{
	ErrorDeviceNotFound:                "Device not found!",
	ErrorConnectDeviceNameInvalid:      "Device name cannot be empty or null",
	ErrorConnectBaudrateEmpty:          "BaudRate cannot be empty",
	ErrorConnectionFailed:              "Connection Failed",
	ErrorCouldNotOpenSerialport:        "Could not open Serial Port",
	ErrorDisconnectFailed:              "Disconnect Failed",
	ErrorSerialportAlreadyConnected:    "Serial Port is already connected",
	ErrorSerialportAlreadyDisconnected: "Serial Port is already disconnected",
	ErrorUsbServiceNotStarted:          "Usb service not started. Please first start Usb service!",
	ErrorXDeviceNotFound:               "No device with name ",
	ErrorUserDidNotAllowToConnect:      "User did not allow to connect",
	ErrorServiceStopFailed:             "Service could not stopped. Please first close connection",
	ErrorThereIsNoConnection:           "There is no connection",
	ErrorNotReadedData:                 "Error reading from port",
	ErrorDriverTypeNotFound:            "Driver type is not found",
	ErrorWriteFailed:                   "Could not write to Serial Port",
	ErrorInvalidConfiguration:          "Invalid connection setting",
}

// Message returns the canonical message for the code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// ErrorPayload is the body of an onError event
type ErrorPayload struct {
	Status       bool      `json:"status"`
	ErrorCode    ErrorCode `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
}

// NewErrorPayload builds the payload, appending detail to the canonical message
func NewErrorPayload(code ErrorCode, detail string) ErrorPayload {
	return ErrorPayload{
		Status:       false,
		ErrorCode:    code,
		ErrorMessage: code.Message() + detail,
	}
}
