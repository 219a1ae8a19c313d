package ocppclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/lorenzodonini/ocpp-go/ocppj"
	"github.com/sirupsen/logrus"

	"charge_point/authorization"
	"charge_point/catalog"
)

const defaultMeterInterval = 60 * time.Second

// Transport delivers encoded frames to the central system.
type Transport interface {
	Write(data []byte) error
}

// LogSink receives every session log entry right after it is recorded.
// Record is called with the dispatcher lock held and must not block.
type LogSink interface {
	Record(station string, entry LogEntry)
}

// EventHandler is notified about state changes worth publishing, with the same
// topic naming the operator commands use.
type EventHandler func(topic string, data map[string]interface{})

// Authorizer is the local authorization list and cache.
type Authorizer interface {
	Lookup(idTag string) authorization.Decision
	Cache(idTag string, entry authorization.Entry)
	ClearCache()
	ListVersion() int
	UpdateList(version int, full bool, entries []authorization.Entry) error
	List() []authorization.Entry
}

// ConnectionState of the websocket owning the dispatcher.
type ConnectionState string

const (
	StateConnecting ConnectionState = "Connecting"
	StateOpen       ConnectionState = "Open"
	StateClosed     ConnectionState = "Closed"
)

type Options struct {
	Station       catalog.Station
	Transport     Transport
	Authorizer    Authorizer
	Logger        *logrus.Entry
	MeterInterval time.Duration
	Now           func() time.Time
	Sinks         []LogSink
	Events        EventHandler
}

// Dispatcher owns the state of one charge point connection. Every transition
// (inbound frame, timer tick, API call) runs to completion under mu.
//
// Methods with the Locked suffix expect mu to be held by the caller.
type Dispatcher struct {
	mu sync.Mutex

	station  catalog.Station
	session  *Session
	queue    *CorrelationQueue
	profiles *ProfileStore
	meter    *MeteringSimulator
	auth     Authorizer

	transport     Transport
	log           *logrus.Entry
	now           func() time.Time
	sinks         []LogSink
	events        EventHandler
	meterInterval time.Duration
	configuration []catalog.ConfigurationKey

	state        ConnectionState
	connectionID string

	callHandlers   map[string]callHandler
	resultHandlers map[string]ResultHandler

	meterCancel     context.CancelFunc
	heartbeatCancel context.CancelFunc

	// run after the reply to the CALL being handled has been written
	afterReply []func()
}

func New(opts Options) *Dispatcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("client", opts.Station.Name)
	}
	auth := opts.Authorizer
	if auth == nil {
		auth = authorization.NewService(now)
	}
	interval := opts.MeterInterval
	if interval <= 0 {
		interval = defaultMeterInterval
	}

	d := &Dispatcher{
		station:       opts.Station,
		session:       NewSession(opts.Station.ConnectorID, opts.Station.Ratings.Amp),
		queue:         NewCorrelationQueue(now),
		profiles:      NewProfileStore(opts.Station.Ratings.Voltage, now()),
		meter:         NewMeteringSimulator(now),
		auth:          auth,
		transport:     opts.Transport,
		log:           log,
		now:           now,
		sinks:         opts.Sinks,
		events:        opts.Events,
		meterInterval: interval,
		configuration: append([]catalog.ConfigurationKey(nil), opts.Station.ConfigurationKey...),
		state:         StateConnecting,
	}
	d.meter.SetHaltHandler(d.stopMeterTimerLocked)
	d.callHandlers = d.defaultCallHandlers()
	d.resultHandlers = defaultResultHandlers()
	return d
}

func (d *Dispatcher) Station() catalog.Station {
	return d.station
}

// SetResultHandler installs or replaces the handler invoked for CALLRESULTs of
// the given action.
func (d *Dispatcher) SetResultHandler(action string, handler ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resultHandlers[action] = handler
}

// Opened marks the connection as open. connectionID tags every log entry
// recorded until the next Opened call. A transaction that survived a
// reconnect resumes periodic metering.
func (d *Dispatcher) Opened(connectionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateOpen
	d.connectionID = connectionID
	d.log.WithField("connection", connectionID).Info("connection open")
	if d.session.activeTransaction != nil && d.meter.Running() {
		d.startMeterTimerLocked()
	}
	d.emitLocked("connection.open", map[string]interface{}{"connectionId": connectionID})
}

// Close stops the meter and heartbeat timers. The session state is kept so it
// can be inspected afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopMeterTimerLocked()
	d.stopHeartbeatTimerLocked()
	if d.state == StateClosed {
		return
	}
	d.state = StateClosed
	d.log.Info("connection closed")
	d.emitLocked("connection.closed", map[string]interface{}{"connectionId": d.connectionID})
}

func (d *Dispatcher) State() ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// HandleFrame processes one inbound text frame. The frame is logged before any
// state is touched; protocol anomalies are recorded and never returned.
func (d *Dispatcher) HandleFrame(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.WithField("direction", DirectionIn).Debug(string(data))
	d.recordLocked(DirectionIn, data, "", "")

	frame, err := ParseFrame(data)
	if err != nil {
		d.anomalyLocked(AnomalyMalformedFrame, data, err)
		return
	}
	switch frame.Type {
	case ocppj.CALL:
		d.handleCallLocked(frame)
	case ocppj.CALL_RESULT:
		d.handleCallResultLocked(frame, data)
	case ocppj.CALL_ERROR:
		d.handleCallErrorLocked(frame, data)
	}
}

func (d *Dispatcher) handleCallResultLocked(frame *Frame, data []byte) {
	request, err := d.queue.Resolve(frame.MessageID)
	if err != nil {
		d.anomalyLocked(AnomalyUnsolicitedResponse, data, fmt.Errorf("%w: %v", ErrUnsolicitedResponse, frame.MessageID))
		return
	}
	handler, ok := d.resultHandlers[request.Action]
	if !ok {
		d.log.WithField("message", request.Action).Debug("no result handler")
		return
	}
	if err := handler(&resultScope{d: d}, request, frame.Payload); err != nil {
		d.log.WithField("message", request.Action).Errorf("result not handled: %v", err)
	}
}

func (d *Dispatcher) handleCallErrorLocked(frame *Frame, data []byte) {
	request, err := d.queue.Resolve(frame.MessageID)
	if err != nil {
		d.anomalyLocked(AnomalyUnsolicitedResponse, data, fmt.Errorf("%w: %v", ErrUnsolicitedResponse, frame.MessageID))
		return
	}
	// a refused stop leaves the transaction running
	if tx := d.session.activeTransaction; tx != nil && request.Action == core.StopTransactionFeatureName {
		tx.Terminating = false
	}
	detail := fmt.Sprintf("%s: %s: %s", request.Action, frame.ErrorCode, frame.ErrorDescription)
	d.recordLocked(DirectionAnomaly, data, AnomalyCallError, detail)
	d.log.WithFields(logrus.Fields{"message": request.Action, "code": frame.ErrorCode}).Warn(frame.ErrorDescription)
	d.emitLocked("call.error", map[string]interface{}{
		"action":      request.Action,
		"messageId":   frame.MessageID,
		"code":        frame.ErrorCode,
		"description": frame.ErrorDescription,
	})
}

// SendRequest allocates the next message id, records the request as pending
// and writes it. Transport errors are returned unchanged; the pending entry
// stays in the queue.
func (d *Dispatcher) SendRequest(action string, payload interface{}) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(action, payload)
}

func (d *Dispatcher) sendLocked(action string, payload interface{}) (string, error) {
	body, err := json.Marshal(emptyIfNil(payload))
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", action, err)
	}
	id := d.session.NextMessageID()
	data, err := EncodeCall(id, action, json.RawMessage(body))
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", action, err)
	}
	if err := d.queue.Enqueue(id, action, payload); err != nil {
		d.anomalyLocked(AnomalyDuplicateKey, data, err)
		return "", err
	}
	return id, d.writeLocked(data)
}

func (d *Dispatcher) writeLocked(data []byte) error {
	d.log.WithField("direction", DirectionOut).Debug(string(data))
	d.recordLocked(DirectionOut, data, "", "")
	if d.transport == nil {
		err := fmt.Errorf("no transport")
		d.recordLocked(DirectionAnomaly, data, AnomalyTransport, err.Error())
		return err
	}
	if err := d.transport.Write(data); err != nil {
		d.recordLocked(DirectionAnomaly, data, AnomalyTransport, err.Error())
		d.log.Errorf("write failed: %v", err)
		return err
	}
	return nil
}

func (d *Dispatcher) recordLocked(direction Direction, data []byte, anomaly Anomaly, detail string) {
	entry := d.session.appendLog(LogEntry{
		ConnectionID: d.connectionID,
		Direction:    direction,
		Timestamp:    d.now(),
		Frame:        string(data),
		Anomaly:      anomaly,
		Detail:       detail,
	})
	for _, sink := range d.sinks {
		sink.Record(d.station.Name, entry)
	}
}

func (d *Dispatcher) anomalyLocked(kind Anomaly, data []byte, err error) {
	d.recordLocked(DirectionAnomaly, data, kind, err.Error())
	d.log.WithField("anomaly", kind).Warn(err)
}

func (d *Dispatcher) emitLocked(topic string, data map[string]interface{}) {
	if d.events == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["chargePointId"] = d.station.Name
	d.events(topic, data)
}

// resolveLocked computes the composite limit and records underflows.
func (d *Dispatcher) resolveLocked() CompositeLimit {
	composite := d.profiles.Resolve(d.now(), d.session.activeTransaction != nil, d.session.HardwareMax())
	if composite.Underflow {
		d.anomalyLocked(AnomalyProfileResolutionUnderflow, nil, ErrProfileResolutionUnderflow)
	}
	return composite
}

func (d *Dispatcher) powerW() float64 {
	return d.session.Limit() * d.station.Ratings.Voltage
}

// startMeteringLocked resets the meter and opens a session at the power the
// current limit allows.
func (d *Dispatcher) startMeteringLocked() {
	d.session.SetLimit(d.resolveLocked().Limit)
	d.meter.Clear()
	d.meter.StartSession(d.powerW())
	d.startMeterTimerLocked()
}

func (d *Dispatcher) meterTickLocked() {
	if d.session.activeTransaction == nil {
		if d.meter.Running() {
			d.meter.Tick()
		}
		return
	}
	d.session.SetLimit(d.resolveLocked().Limit)
	if power := d.powerW(); !d.meter.Running() || power != d.meter.PowerW() {
		d.meter.StartSession(power)
	} else {
		d.meter.Tick()
	}
	d.sendMeterValuesLocked()
}

func (d *Dispatcher) sendMeterValuesLocked() {
	request := core.NewMeterValuesRequest(d.session.Connector().ID(), []types.MeterValue{d.meterValueLocked()})
	if tx := d.session.activeTransaction; tx != nil {
		request.TransactionId = &tx.TransactionID
	}
	if _, err := d.sendLocked(core.MeterValuesFeatureName, request); err != nil {
		d.log.WithField("message", core.MeterValuesFeatureName).Errorf("meter values not sent: %v", err)
		return
	}
	d.emitLocked("meter.values", map[string]interface{}{
		"energyWh": d.meter.CurrentEnergyWh(),
		"limit":    d.session.Limit(),
		"powerW":   d.meter.PowerW(),
	})
}

func (d *Dispatcher) meterValueLocked() types.MeterValue {
	return types.MeterValue{
		Timestamp: types.NewDateTime(d.now()),
		SampledValue: []types.SampledValue{{
			Value:     d.meter.CurrentEnergyWh(),
			Context:   types.ReadingContextSamplePeriodic,
			Format:    types.ValueFormatRaw,
			Measurand: types.MeasurandEnergyActiveImportRegister,
			Unit:      types.UnitOfMeasureWh,
		}},
	}
}

func (d *Dispatcher) startMeterTimerLocked() {
	if d.meterCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.meterCancel = cancel
	go d.runMeterTimer(ctx, d.meterInterval)
}

func (d *Dispatcher) stopMeterTimerLocked() {
	if d.meterCancel == nil {
		return
	}
	d.meterCancel()
	d.meterCancel = nil
}

func (d *Dispatcher) runMeterTimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			// cancelled while waiting for the lock
			if ctx.Err() == nil {
				d.meterTickLocked()
			}
			d.mu.Unlock()
		}
	}
}

func (d *Dispatcher) startHeartbeatTimerLocked() {
	d.stopHeartbeatTimerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	d.heartbeatCancel = cancel
	go d.runHeartbeatTimer(ctx)
}

func (d *Dispatcher) stopHeartbeatTimerLocked() {
	if d.heartbeatCancel == nil {
		return
	}
	d.heartbeatCancel()
	d.heartbeatCancel = nil
}

// runHeartbeatTimer re-reads the interval before every wait so a changed
// HeartbeatInterval applies from the next beat.
func (d *Dispatcher) runHeartbeatTimer(ctx context.Context) {
	for {
		d.mu.Lock()
		interval := time.Duration(d.session.Heartbeat()) * time.Second
		d.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		d.mu.Lock()
		if ctx.Err() == nil {
			if _, err := d.sendLocked(core.HeartbeatFeatureName, core.NewHeartbeatRequest()); err != nil {
				d.log.WithField("message", core.HeartbeatFeatureName).Errorf("heartbeat not sent: %v", err)
			}
		}
		d.mu.Unlock()
	}
}
