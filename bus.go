package espwifi

import (
	"sync"

	"go.uber.org/zap"
)

// EventHandler receives events on the I/O goroutine. It must not block and
// must not wait for commands: the I/O loop stalls until it returns.
// Submitting commands without waiting for them is allowed.
type EventHandler func(ev Event)

// Subscription is an additional event listener. See Device.Subscribe.
type Subscription struct {
	b *bus
	h EventHandler
}

// Cancel removes the subscription. It is safe to call Cancel more than once
// and from an event handler.
func (s *Subscription) Cancel() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for i, sub := range s.b.subs {
		if sub == s {
			s.b.subs = append(s.b.subs[:i:i], s.b.subs[i+1:]...)
			return
		}
	}
}

type bus struct {
	mu      sync.Mutex
	primary EventHandler
	subs    []*Subscription
	log     *zap.Logger
}

func (b *bus) register(h EventHandler) {
	b.mu.Lock()
	b.primary = h
	b.mu.Unlock()
}

func (b *bus) subscribe(h EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{b: b, h: h}
	b.subs = append(b.subs, s)
	return s
}

// dispatch calls the primary handler and then the subscribers in the
// subscription order.
func (b *bus) dispatch(ev Event) {
	b.mu.Lock()
	primary, subs := b.primary, b.subs
	b.mu.Unlock()
	if primary != nil {
		b.call(primary, ev)
	}
	for _, s := range subs {
		b.call(s.h, ev)
	}
}

func (b *bus) call(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panic",
				zap.String("event", eventName(ev)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	h(ev)
}

// Register sets the primary event handler, replacing the previous one. A nil
// h removes it.
func (d *Device) Register(h EventHandler) {
	d.bus.register(h)
}

// Subscribe adds an event listener called after the primary handler.
func (d *Device) Subscribe(h EventHandler) *Subscription {
	return d.bus.subscribe(h)
}

func eventName(ev Event) string {
	switch ev.(type) {
	case EventInitFinish:
		return "init_finish"
	case EventResetDetected:
		return "reset_detected"
	case EventVersionNotSupported:
		return "version_not_supported"
	case EventWiFiConnected:
		return "wifi_connected"
	case EventWiFiGotIP:
		return "wifi_got_ip"
	case EventWiFiDisconnected:
		return "wifi_disconnected"
	case EventAPConnectedStation:
		return "ap_connected_station"
	case EventAPStationIP:
		return "ap_station_ip"
	case EventAPDisconnectedStation:
		return "ap_disconnected_station"
	case EventConnActive:
		return "conn_active"
	case EventConnData:
		return "conn_data"
	case EventConnClosed:
		return "conn_closed"
	case EventConnError:
		return "conn_error"
	case EventTransportError:
		return "transport_error"
	case EventParseError:
		return "parse_error"
	}
	return "unknown"
}
