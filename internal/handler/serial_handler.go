// internal/handler/serial_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usb-serial-service/internal/codec"
	"usb-serial-service/internal/model"
	"usb-serial-service/internal/service"
	"usb-serial-service/internal/utils"
)

// SerialController is the part of the serial service exposed over HTTP
type SerialController interface {
	StartService()
	StopService()
	Status() service.Status
	IsSupported(name string) (bool, error)
	ListDevices() ([]model.DeviceDescriptor, error)
	Connect(name string, baudRate int)
	Disconnect()

	WriteBytes(data []int)
	WriteString(text string)
	WriteBase64(text string)
	WriteHexString(text string)

	Settings() model.ConnectionConfig
	BaudRate() int
	SetDataBit(value int)
	SetStopBit(value int)
	SetParity(value int)
	SetFlowControl(value int)
	SetAutoConnect(enabled bool)
	SetAutoConnectBaudRate(value int)
	SetInterface(value int)
	SetReturnedDataType(value int)
	SetDriver(name string)
	SetReadBufferSize(value int)
	LoadDefaultConnectionSetting()
}

// SerialHandler handles serial bridge HTTP requests. Commands answer 202 and
// report their outcome on the event stream.
type SerialHandler struct {
	serial SerialController
	logger *utils.ServiceLogger
}

// NewSerialHandler creates a new serial handler
func NewSerialHandler(serial SerialController, logger *zap.Logger) *SerialHandler {
	return &SerialHandler{
		serial: serial,
		logger: utils.NewServiceLogger(logger, "serial-handler"),
	}
}

// ConnectRequest is the body of POST /connection
type ConnectRequest struct {
	DeviceName string `json:"device_name"`
	BaudRate   int    `json:"baud_rate"`
}

// WriteBytesRequest is the body of POST /write/bytes
type WriteBytesRequest struct {
	Data []int `json:"data"`
}

// WriteTextRequest is the body of the text write endpoints
type WriteTextRequest struct {
	Data string `json:"data"`
}

// SettingRequest is the body of PUT /settings/:setting
type SettingRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// IntArrayRequest is the body of POST /helpers/int-array-to-utf16
type IntArrayRequest struct {
	Values []int `json:"values"`
}

// HexRequest is the body of POST /helpers/hex-to-utf16
type HexRequest struct {
	Hex string `json:"hex"`
}

// SettingsResponse is the body of GET /settings
type SettingsResponse struct {
	model.ConnectionConfig
	BaudRate int `json:"baudRate"`
}

// RegisterRoutes registers serial routes
func (h *SerialHandler) RegisterRoutes(router *gin.RouterGroup) {
	svc := router.Group("/service")
	{
		svc.POST("/start", h.StartService)
		svc.POST("/stop", h.StopService)
		svc.GET("/status", h.GetStatus)
	}

	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)
		devices.GET("/supported", h.IsSupported)
	}

	connection := router.Group("/connection")
	{
		connection.POST("", h.Connect)
		connection.DELETE("", h.Disconnect)
	}

	write := router.Group("/write")
	{
		write.POST("/bytes", h.WriteBytes)
		write.POST("/string", h.WriteString)
		write.POST("/base64", h.WriteBase64)
		write.POST("/hex", h.WriteHex)
	}

	settings := router.Group("/settings")
	{
		settings.GET("", h.GetSettings)
		settings.PUT("/:setting", h.UpdateSetting)
		settings.POST("/defaults", h.LoadDefaults)
	}

	helpers := router.Group("/helpers")
	{
		helpers.POST("/int-array-to-utf16", h.IntArrayToUtf16)
		helpers.POST("/hex-to-utf16", h.HexToUtf16)
	}
}

// StartService starts the USB service
func (h *SerialHandler) StartService(c *gin.Context) {
	h.serial.StartService()
	utils.AcceptedResponse(c, "start_service")
}

// StopService stops the USB service
func (h *SerialHandler) StopService(c *gin.Context) {
	h.serial.StopService()
	utils.AcceptedResponse(c, "stop_service")
}

// GetStatus returns the controller status
func (h *SerialHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Status retrieved", h.serial.Status())
}

// ListDevices lists attached USB serial devices
func (h *SerialHandler) ListDevices(c *gin.Context) {
	devices, err := h.serial.ListDevices()
	if err != nil {
		if errors.Is(err, service.ErrServiceNotStarted) {
			utils.ErrorResponse(c, http.StatusPreconditionFailed, model.ErrorUsbServiceNotStarted.Message(), err)
			return
		}
		h.logger.Error("Failed to list devices", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list devices", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved", gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// IsSupported reports whether a driver claims the named device
func (h *SerialHandler) IsSupported(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		utils.ValidationErrorResponse(c, map[string]string{"name": "name is required"})
		return
	}

	supported, err := h.serial.IsSupported(name)
	if err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, model.ErrorXDeviceNotFound.Message()+name, err)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to check device support", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Support checked", gin.H{
		"name":      name,
		"supported": supported,
	})
}

// Connect requests a connection to the named device
func (h *SerialHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.logger.Info("Connect requested",
		zap.String("device", req.DeviceName),
		zap.Int("baud_rate", req.BaudRate),
	)
	h.serial.Connect(req.DeviceName, req.BaudRate)
	utils.AcceptedResponse(c, "connect")
}

// Disconnect closes the current connection
func (h *SerialHandler) Disconnect(c *gin.Context) {
	h.serial.Disconnect()
	utils.AcceptedResponse(c, "disconnect")
}

// WriteBytes writes an integer array
func (h *SerialHandler) WriteBytes(c *gin.Context) {
	var req WriteBytesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.serial.WriteBytes(req.Data)
	utils.AcceptedResponse(c, "write_bytes")
}

// WriteString writes UTF-8 text
func (h *SerialHandler) WriteString(c *gin.Context) {
	h.writeText(c, "write_string", h.serial.WriteString)
}

// WriteBase64 writes decoded base64 text
func (h *SerialHandler) WriteBase64(c *gin.Context) {
	h.writeText(c, "write_base64", h.serial.WriteBase64)
}

// WriteHex writes decoded hex text
func (h *SerialHandler) WriteHex(c *gin.Context) {
	h.writeText(c, "write_hex", h.serial.WriteHexString)
}

func (h *SerialHandler) writeText(c *gin.Context, command string, write func(string)) {
	var req WriteTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	write(req.Data)
	utils.AcceptedResponse(c, command)
}

// GetSettings returns the current connection settings
func (h *SerialHandler) GetSettings(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Settings retrieved", SettingsResponse{
		ConnectionConfig: h.serial.Settings(),
		BaudRate:         h.serial.BaudRate(),
	})
}

// UpdateSetting applies one connection setting. Range checks happen in the
// service and surface as InvalidConfiguration events.
func (h *SerialHandler) UpdateSetting(c *gin.Context) {
	setting := c.Param("setting")

	apply, ok := h.setters()[setting]
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Unknown setting", fmt.Errorf("setting %q", setting))
		return
	}

	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := apply(req.Value); err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"value": err.Error()})
		return
	}
	utils.AcceptedResponse(c, "set_"+setting)
}

// LoadDefaults restores the default line settings
func (h *SerialHandler) LoadDefaults(c *gin.Context) {
	h.serial.LoadDefaultConnectionSetting()
	utils.AcceptedResponse(c, "load_default_connection_setting")
}

// IntArrayToUtf16 converts code units to text
func (h *SerialHandler) IntArrayToUtf16(c *gin.Context) {
	var req IntArrayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Converted", gin.H{"text": codec.IntArrayToUtf16(req.Values)})
}

// HexToUtf16 converts hex text to text
func (h *SerialHandler) HexToUtf16(c *gin.Context) {
	var req HexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	text, err := codec.HexToUtf16(req.Hex)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid hex text", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Converted", gin.H{"text": text})
}

func (h *SerialHandler) setters() map[string]func(json.RawMessage) error {
	intSetter := func(set func(int)) func(json.RawMessage) error {
		return func(raw json.RawMessage) error {
			var v int
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("value must be an integer")
			}
			set(v)
			return nil
		}
	}

	return map[string]func(json.RawMessage) error{
		"data-bits":              intSetter(h.serial.SetDataBit),
		"stop-bits":              intSetter(h.serial.SetStopBit),
		"parity":                 intSetter(h.serial.SetParity),
		"flow-control":           intSetter(h.serial.SetFlowControl),
		"auto-connect-baud-rate": intSetter(h.serial.SetAutoConnectBaudRate),
		"interface":              intSetter(h.serial.SetInterface),
		"returned-data-type":     intSetter(h.serial.SetReturnedDataType),
		"read-buffer-size":       intSetter(h.serial.SetReadBufferSize),
		"auto-connect": func(raw json.RawMessage) error {
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("value must be a boolean")
			}
			h.serial.SetAutoConnect(v)
			return nil
		},
		"driver": func(raw json.RawMessage) error {
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("value must be a string")
			}
			h.serial.SetDriver(v)
			return nil
		},
	}
}
