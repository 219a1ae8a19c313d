package ocppclient

import (
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"charge_point/authorization"
)

// BootNotification announces the charge point with the catalog props.
func (d *Dispatcher) BootNotification() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bootNotificationLocked()
}

func (d *Dispatcher) bootNotificationLocked() (string, error) {
	props := d.station.Props
	request := core.NewBootNotificationRequest(props.ChargePointModel, props.ChargePointVendor)
	request.ChargePointSerialNumber = props.ChargePointSerialNumber
	request.ChargeBoxSerialNumber = props.ChargeBoxSerialNumber
	request.FirmwareVersion = props.FirmwareVersion
	return d.sendLocked(core.BootNotificationFeatureName, request)
}

func (d *Dispatcher) Authorize(idTag string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(core.AuthorizeFeatureName, core.NewAuthorizationRequest(idTag))
}

func (d *Dispatcher) Heartbeat() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(core.HeartbeatFeatureName, core.NewHeartbeatRequest())
}

// StatusNotification reports the connector status and remembers it locally.
func (d *Dispatcher) StatusNotification(status core.ChargePointStatus) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusNotificationLocked(status)
}

func (d *Dispatcher) statusNotificationLocked(status core.ChargePointStatus) (string, error) {
	connector := d.session.Connector()
	connector.setStatus(status)
	request := core.NewStatusNotificationRequest(connector.ID(), core.NoError, status)
	request.Timestamp = types.NewDateTime(d.now())
	return d.sendLocked(core.StatusNotificationFeatureName, request)
}

// StartTransaction requests a new transaction for idTag. The transaction only
// becomes active once the server accepts it.
func (d *Dispatcher) StartTransaction(idTag string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startTransactionLocked(idTag)
}

func (d *Dispatcher) startTransactionLocked(idTag string) (string, error) {
	if err := d.transactionBusyLocked(); err != nil {
		return "", err
	}
	if d.auth.Lookup(idTag) == authorization.Blocked {
		return "", fmt.Errorf("%w: %v", ErrIdTagBlocked, idTag)
	}
	d.session.Connector().setStatus(core.ChargePointStatusPreparing)
	request := core.NewStartTransactionRequest(d.session.Connector().ID(), idTag, 0, types.NewDateTime(d.now()))
	return d.sendLocked(core.StartTransactionFeatureName, request)
}

// transactionBusyLocked reports why a new transaction cannot start: one is
// active on the connector or a StartTransaction is still awaiting its result.
func (d *Dispatcher) transactionBusyLocked() error {
	if d.session.activeTransaction != nil || d.session.Connector().hasTransactionInProgress() {
		return ErrTransactionActive
	}
	if request, ok := d.pendingLocked(core.StartTransactionFeatureName); ok {
		return fmt.Errorf("%w: start transaction %v pending", ErrTransactionActive, request.MessageID)
	}
	return nil
}

// pendingLocked returns the oldest pending request for action.
func (d *Dispatcher) pendingLocked(action string) (PendingRequest, bool) {
	for _, request := range d.queue.Pending() {
		if request.Action == action {
			return request, true
		}
	}
	return PendingRequest{}, false
}

// StopTransaction ends the active transaction, reporting the energy delivered
// since it started as meterStop.
func (d *Dispatcher) StopTransaction(reason core.Reason) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopTransactionLocked(reason)
}

func (d *Dispatcher) stopTransactionLocked(reason core.Reason) (string, error) {
	tx := d.session.activeTransaction
	if tx == nil {
		return "", ErrNoActiveTransaction
	}
	if tx.Terminating {
		return "", fmt.Errorf("%w: %v", ErrTransactionStopping, tx.TransactionID)
	}
	tx.Terminating = true
	d.session.Connector().setStatus(core.ChargePointStatusFinishing)
	if d.meter.Running() {
		d.meter.Tick()
	}
	request := core.NewStopTransactionRequest(tx.MeterStart+d.meter.TotalEnergyWh(), types.NewDateTime(d.now()), tx.TransactionID)
	request.IdTag = tx.IdTag
	request.Reason = reason
	return d.sendLocked(core.StopTransactionFeatureName, request)
}

// SendMeterValues sends an energy reading outside the periodic timer.
func (d *Dispatcher) SendMeterValues() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.meter.Running() {
		d.meter.Tick()
	}
	d.sendMeterValuesLocked()
}

// Snapshot is a point-in-time view of the charge point state.
type Snapshot struct {
	Name              string                 `json:"name"`
	State             ConnectionState        `json:"state"`
	ConnectionID      string                 `json:"connectionId,omitempty"`
	ConnectorID       int                    `json:"connectorId"`
	ConnectorStatus   core.ChargePointStatus `json:"connectorStatus"`
	ActiveTransaction *Transaction           `json:"activeTransaction,omitempty"`
	Limit             float64                `json:"limit"`
	HardwareMax       float64                `json:"hardwareMax"`
	Voltage           float64                `json:"voltage"`
	EnergyWh          string                 `json:"energyWh"`
	Heartbeat         int                    `json:"heartbeat"`
	Pending           int                    `json:"pending"`
	NextMessageID     string                 `json:"nextMessageId"`
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	connector := d.session.Connector()
	return Snapshot{
		Name:              d.station.Name,
		State:             d.state,
		ConnectionID:      d.connectionID,
		ConnectorID:       connector.ID(),
		ConnectorStatus:   connector.Status(),
		ActiveTransaction: d.session.ActiveTransaction(),
		Limit:             d.session.Limit(),
		HardwareMax:       d.session.HardwareMax(),
		Voltage:           d.station.Ratings.Voltage,
		EnergyWh:          d.meter.CurrentEnergyWh(),
		Heartbeat:         d.session.Heartbeat(),
		Pending:           d.queue.Len(),
		NextMessageID:     d.session.PeekMessageID(),
	}
}

func (d *Dispatcher) Logs() []LogEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Logs()
}

func (d *Dispatcher) Pending() []PendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Pending()
}

func (d *Dispatcher) ActiveTransaction() *Transaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.ActiveTransaction()
}

func (d *Dispatcher) Profiles() []ChargingProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profiles.Profiles()
}

// InstallProfile installs a profile on behalf of an operator, bypassing the
// transaction checks SetChargingProfile applies.
func (d *Dispatcher) InstallProfile(profile ChargingProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profiles.Install(profile)
}

func (d *Dispatcher) ClearProfiles(filter ClearFilter) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profiles.Clear(filter)
}

// CompositeLimit resolves the limit in force now without applying it.
func (d *Dispatcher) CompositeLimit() CompositeLimit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolveLocked()
}

func (d *Dispatcher) Limit() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Limit()
}

func (d *Dispatcher) MeterSessions() []MeterSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meter.Sessions()
}

func (d *Dispatcher) CurrentEnergyWh() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meter.CurrentEnergyWh()
}

func (d *Dispatcher) LocalList() (int, []authorization.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auth.ListVersion(), d.auth.List()
}

func (d *Dispatcher) ClearAuthorizationCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auth.ClearCache()
}
