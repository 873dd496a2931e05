// internal/usbhost/watcher.go
package usbhost

import (
	"context"
	"time"

	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

// Watcher turns periodic enumeration snapshots into attach/detach signals
type Watcher struct {
	logger   *zap.Logger
	list     func() ([]model.DeviceDescriptor, error)
	interval time.Duration
	known    map[string]model.DeviceDescriptor
}

// NewWatcher creates a watcher over the given enumeration function
func NewWatcher(logger *zap.Logger, list func() ([]model.DeviceDescriptor, error), interval time.Duration) *Watcher {
	return &Watcher{
		logger:   logger,
		list:     list,
		interval: interval,
	}
}

// Run polls until ctx is done. The first snapshot only seeds the known set.
func (w *Watcher) Run(ctx context.Context, out chan<- Notification) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("USB watcher started", zap.Duration("interval", w.interval))

	if devices, err := w.list(); err == nil {
		w.known = index(devices)
	} else {
		w.logger.Warn("Initial USB enumeration failed", zap.Error(err))
		w.known = map[string]model.DeviceDescriptor{}
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("USB watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx, out); err != nil {
				return err
			}
		}
	}
}

// poll takes one snapshot and publishes the difference to the known set
func (w *Watcher) poll(ctx context.Context, out chan<- Notification) error {
	devices, err := w.list()
	if err != nil {
		w.logger.Warn("USB enumeration failed", zap.Error(err))
		return nil
	}

	current := index(devices)
	for _, n := range diff(w.known, current) {
		w.logger.Debug("USB change detected",
			zap.Stringer("kind", n.Kind),
			zap.String("device", n.Device.SystemName),
			zap.String("usb_id", n.Device.USBID()),
		)
		select {
		case out <- n:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.known = current
	return nil
}

func index(devices []model.DeviceDescriptor) map[string]model.DeviceDescriptor {
	m := make(map[string]model.DeviceDescriptor, len(devices))
	for _, d := range devices {
		m[d.SystemName] = d
	}
	return m
}

// diff reports detaches before attaches so a port that is replaced under the
// same name reads as detach-then-attach.
func diff(before, after map[string]model.DeviceDescriptor) []Notification {
	var out []Notification
	for name, d := range before {
		if cur, ok := after[name]; !ok || cur.VendorID != d.VendorID || cur.ProductID != d.ProductID {
			out = append(out, Notification{Kind: NotificationDetached, Device: d})
		}
	}
	for name, d := range after {
		if prev, ok := before[name]; !ok || prev.VendorID != d.VendorID || prev.ProductID != d.ProductID {
			out = append(out, Notification{Kind: NotificationAttached, Device: d})
		}
	}
	return out
}
