package main

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"charge_point/notifier"
	"charge_point/ocppclient"
)

const notificationBuffer = 256

// Registry keeps the running charge points and fans their events out to the
// notifiers.
type Registry struct {
	mu           sync.RWMutex
	chargePoints map[string]*ChargePoint
	subscribers  []chan notifier.Notification
}

func NewRegistry() *Registry {
	return &Registry{
		chargePoints: map[string]*ChargePoint{},
	}
}

// NotificationChannel returns a new channel receiving every event published
// after the call. Subscribers that fall behind lose events.
func (r *Registry) NotificationChannel() chan notifier.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan notifier.Notification, notificationBuffer)
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Notify is the ocppclient.EventHandler of every charge point. It runs under
// the dispatcher lock and never blocks.
func (r *Registry) Notify(topic string, data map[string]interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := notifier.Notification{Topic: topic, Data: data}
	for _, ch := range r.subscribers {
		select {
		case ch <- n:
		default:
			logDefault(fmt.Sprint(data["chargePointId"]), topic).Warn("notification dropped")
		}
	}
}

func (r *Registry) Add(cp *ChargePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := cp.Name()
	if _, exists := r.chargePoints[name]; exists {
		return fmt.Errorf("charge point %v already running", name)
	}
	r.chargePoints[name] = cp
	return nil
}

func (r *Registry) GetChargePoint(name string) (*ChargePoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp, exists := r.chargePoints[name]
	return cp, exists
}

// Dispatcher implements the station lookup of actions, httpapi and the console.
func (r *Registry) Dispatcher(chargePointID string) (*ocppclient.Dispatcher, error) {
	cp, exists := r.GetChargePoint(chargePointID)
	if !exists {
		return nil, fmt.Errorf("unknown charge point %v", chargePointID)
	}
	return cp.Dispatcher(), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chargePoints))
	for name := range r.chargePoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll disconnects every charge point.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cp := range r.chargePoints {
		cp.Stop()
	}
}

func logDefault(chargePointId string, feature string) *logrus.Entry {
	return log.WithFields(logrus.Fields{"client": chargePointId, "message": feature})
}
