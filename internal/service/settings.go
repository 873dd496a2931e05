// internal/service/settings.go
package service

import (
	"fmt"

	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

// Settings returns a snapshot of the connection settings
func (s *SerialService) Settings() model.ConnectionConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cfg := s.config
	cfg.ReturnedDataType = s.currentReturnedDataType()
	return cfg
}

// BaudRate returns the baud rate used for manual connections
func (s *SerialService) BaudRate() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.baudRate
}

// Setters apply to the next connection. Out-of-range values emit
// InvalidConfiguration and leave the setting unchanged.

func (s *SerialService) SetDataBit(value int) {
	s.update("data_bits", value, model.DataBits(value).Valid(), func(c *model.ConnectionConfig) {
		c.DataBits = model.DataBits(value)
	})
}

func (s *SerialService) SetStopBit(value int) {
	s.update("stop_bits", value, model.StopBits(value).Valid(), func(c *model.ConnectionConfig) {
		c.StopBits = model.StopBits(value)
	})
}

func (s *SerialService) SetParity(value int) {
	s.update("parity", value, model.Parity(value).Valid(), func(c *model.ConnectionConfig) {
		c.Parity = model.Parity(value)
	})
}

func (s *SerialService) SetFlowControl(value int) {
	s.update("flow_control", value, model.FlowControl(value).Valid(), func(c *model.ConnectionConfig) {
		c.FlowControl = model.FlowControl(value)
	})
}

func (s *SerialService) SetAutoConnect(enabled bool) {
	s.update("auto_connect", enabled, true, func(c *model.ConnectionConfig) {
		c.AutoConnect = enabled
	})
}

func (s *SerialService) SetAutoConnectBaudRate(value int) {
	s.update("auto_connect_baud_rate", value, value >= 1, func(c *model.ConnectionConfig) {
		c.AutoConnectBaudRate = value
	})
}

func (s *SerialService) SetInterface(value int) {
	s.update("interface", value, value >= model.InterfaceUnspecified, func(c *model.ConnectionConfig) {
		c.InterfaceIndex = value
	})
}

func (s *SerialService) SetReadBufferSize(value int) {
	s.update("read_buffer_size", value, value >= 1, func(c *model.ConnectionConfig) {
		c.ReadBufferSize = value
	})
}

// SetReturnedDataType ignores anything but the two read encodings.
// It takes effect immediately, including on an open connection.
func (s *SerialService) SetReturnedDataType(value int) {
	t := model.ReturnedDataType(value)
	if !t.Valid() {
		s.logger.Debug("Ignoring invalid returned data type", zap.Int("value", value))
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.config.ReturnedDataType = t
	s.returnedDataType.Store(int32(t))
}

// SetDriver selects a chipset driver or "auto"
func (s *SerialService) SetDriver(name string) {
	d, ok := model.ParseDriverName(name)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !ok {
		s.emitError(model.ErrorDriverTypeNotFound, "")
		return
	}
	s.config.Driver = d
}

// LoadDefaultConnectionSetting restores 8 data bits, one stop bit, no parity
// and no flow control.
func (s *SerialService) LoadDefaultConnectionSetting() {
	defaults := model.DefaultConnectionConfig()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.config.DataBits = defaults.DataBits
	s.config.StopBits = defaults.StopBits
	s.config.Parity = defaults.Parity
	s.config.FlowControl = defaults.FlowControl
}

func (s *SerialService) update(setting string, value interface{}, valid bool, apply func(*model.ConnectionConfig)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !valid {
		s.emitError(model.ErrorInvalidConfiguration, fmt.Sprintf(": %s=%v", setting, value))
		return
	}
	apply(&s.config)
	s.logger.Debug("Connection setting updated", zap.String("setting", setting), zap.Any("value", value))
}
