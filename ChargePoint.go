package main

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"charge_point/catalog"
	"charge_point/ocppclient"
	"charge_point/transport"
)

// ChargePoint is one simulated station: its dispatcher and the websocket
// client feeding it.
type ChargePoint struct {
	station    catalog.Station
	dispatcher *ocppclient.Dispatcher

	mu     sync.RWMutex
	client *transport.Client
}

type chargePointOptions struct {
	CentralSystemURL string
	MeterInterval    time.Duration
	Sinks            []ocppclient.LogSink
	Events           ocppclient.EventHandler
	Log              *logrus.Logger
}

func NewChargePoint(station catalog.Station, opts chargePointOptions) *ChargePoint {
	entry := opts.Log.WithField("client", station.Name)
	cp := &ChargePoint{station: station}
	cp.dispatcher = ocppclient.New(ocppclient.Options{
		Station:       station,
		Transport:     cp,
		Logger:        entry,
		MeterInterval: opts.MeterInterval,
		Sinks:         opts.Sinks,
		Events:        opts.Events,
	})
	cp.client = transport.New(opts.CentralSystemURL, station, cp.dispatcher, entry)
	return cp
}

func (cp *ChargePoint) Name() string {
	return cp.station.Name
}

func (cp *ChargePoint) Dispatcher() *ocppclient.Dispatcher {
	return cp.dispatcher
}

// Write implements ocppclient.Transport.
func (cp *ChargePoint) Write(data []byte) error {
	cp.mu.RLock()
	client := cp.client
	cp.mu.RUnlock()
	if client == nil {
		return transport.ErrNotConnected
	}
	return client.Write(data)
}

// Start connects to the central system and announces the station.
func (cp *ChargePoint) Start() error {
	if err := cp.client.Start(); err != nil {
		return err
	}
	if _, err := cp.dispatcher.BootNotification(); err != nil {
		logDefault(cp.Name(), "BootNotification").Errorf("couldn't send message: %v", err)
	}
	return nil
}

func (cp *ChargePoint) Stop() {
	cp.client.Stop()
}
