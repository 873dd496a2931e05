// internal/service/writes.go
package service

import (
	"time"

	"go.uber.org/zap"

	"usb-serial-service/internal/codec"
	"usb-serial-service/internal/model"
)

// WriteBytes writes integers in 0..255 as raw bytes
func (s *SerialService) WriteBytes(data []int) {
	s.write("bytes", func() ([]byte, bool) {
		buf, err := codec.IntsToBytes(data)
		if err != nil {
			s.emitError(model.ErrorWriteFailed, " "+err.Error())
			return nil, false
		}
		return buf, true
	})
}

// WriteString writes the UTF-8 encoding of text
func (s *SerialService) WriteString(text string) {
	s.write("string", func() ([]byte, bool) {
		return []byte(text), true
	})
}

// WriteBase64 decodes standard base64 and writes the result
func (s *SerialService) WriteBase64(text string) {
	s.write("base64", func() ([]byte, bool) {
		buf, err := codec.DecodeBase64(text)
		if err != nil {
			s.emitError(model.ErrorWriteFailed, " "+err.Error())
			return nil, false
		}
		return buf, true
	})
}

// WriteHexString decodes two hex digits per byte. Empty input is a no-op and
// malformed input abandons the whole write without an error event.
func (s *SerialService) WriteHexString(text string) {
	s.write("hex", func() ([]byte, bool) {
		if text == "" {
			return nil, false
		}
		buf, err := codec.DecodeHex(text)
		if err != nil {
			s.logger.Debug("Discarding malformed hex write", zap.Error(err))
			return nil, false
		}
		return buf, true
	})
}

// write checks preconditions and decodes under the controller lock, then
// writes with only writeMutex held. A write blocked by flow control must not
// hold up detach, status or shutdown; closing the port unblocks it.
func (s *SerialService) write(encoding string, decode func() ([]byte, bool)) {
	s.mutex.Lock()
	if !s.serviceStarted {
		s.emitError(model.ErrorUsbServiceNotStarted, "")
		s.mutex.Unlock()
		return
	}
	if s.state != StateConnected || s.driver == nil {
		s.emitError(model.ErrorThereIsNoConnection, "")
		s.mutex.Unlock()
		return
	}

	data, ok := decode()
	drv := s.driver
	connLogger := s.connLogger
	generation := s.generation
	s.mutex.Unlock()
	if !ok {
		return
	}

	s.writeMutex.Lock()
	start := time.Now()
	n, err := drv.Write(data)
	s.writeMutex.Unlock()

	if connLogger != nil {
		connLogger.LogWrite(encoding, n, time.Since(start), err)
	}
	if err == nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if generation != s.generation {
		s.logger.Debug("Dropping write error from a closed connection", zap.Error(err))
		return
	}
	s.emitError(model.ErrorWriteFailed, " "+err.Error())
}
