package ocppclient

import (
	"encoding/json"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
)

// ResultScope is the part of the dispatcher state a result handler may touch.
// Handlers run with the dispatcher lock held; they must use the scope and
// never call back into the Dispatcher.
type ResultScope interface {
	ActiveTransaction() *Transaction
	SetActiveTransaction(tx *Transaction)
	Pending() []PendingRequest
	StartMetering()
	StopMetering()
	SetHeartbeat(seconds int)
	StartHeartbeat()
	CacheAuthorization(idTag string, info *types.IdTagInfo)
	StopTransaction(reason core.Reason) error
	Notify(topic string, data map[string]interface{})
	Logger() *logrus.Entry
}

// ResultHandler handles the CALLRESULT payload for a resolved request.
type ResultHandler func(scope ResultScope, request PendingRequest, payload json.RawMessage) error

func defaultResultHandlers() map[string]ResultHandler {
	return map[string]ResultHandler{
		core.BootNotificationFeatureName: onBootNotificationResult,
		core.AuthorizeFeatureName:        onAuthorizeResult,
		core.StartTransactionFeatureName: onStartTransactionResult,
		core.StopTransactionFeatureName:  onStopTransactionResult,
		core.HeartbeatFeatureName:        onHeartbeatResult,
	}
}

func onBootNotificationResult(scope ResultScope, request PendingRequest, payload json.RawMessage) error {
	var confirmation core.BootNotificationConfirmation
	if err := json.Unmarshal(payload, &confirmation); err != nil {
		return fmt.Errorf("decode boot notification result: %w", err)
	}
	scope.SetHeartbeat(confirmation.Interval)
	scope.Logger().WithField("message", request.Action).Infof("boot %v", confirmation.Status)
	scope.Notify("boot.notification", map[string]interface{}{
		"status":   confirmation.Status,
		"interval": confirmation.Interval,
	})
	if confirmation.Status == core.RegistrationStatusAccepted {
		scope.StartHeartbeat()
	}
	return nil
}

func onAuthorizeResult(scope ResultScope, request PendingRequest, payload json.RawMessage) error {
	var confirmation core.AuthorizeConfirmation
	if err := json.Unmarshal(payload, &confirmation); err != nil {
		return fmt.Errorf("decode authorize result: %w", err)
	}
	authorize, ok := request.Payload.(*core.AuthorizeRequest)
	if !ok {
		return nil
	}
	scope.CacheAuthorization(authorize.IdTag, confirmation.IdTagInfo)
	status := types.AuthorizationStatus("")
	if confirmation.IdTagInfo != nil {
		status = confirmation.IdTagInfo.Status
	}
	scope.Notify("authorize", map[string]interface{}{"idTag": authorize.IdTag, "status": status})
	return nil
}

// onStartTransactionResult activates the accepted transaction and starts
// metering. A rejected id tag is answered with an immediate stop.
func onStartTransactionResult(scope ResultScope, request PendingRequest, payload json.RawMessage) error {
	var confirmation core.StartTransactionConfirmation
	if err := json.Unmarshal(payload, &confirmation); err != nil {
		return fmt.Errorf("decode start transaction result: %w", err)
	}
	tx := &Transaction{TransactionID: confirmation.TransactionId}
	if start, ok := request.Payload.(*core.StartTransactionRequest); ok {
		tx.ConnectorID = start.ConnectorId
		tx.IdTag = start.IdTag
		tx.MeterStart = start.MeterStart
		if start.Timestamp != nil {
			tx.StartedAt = start.Timestamp.Time
		}
	}
	scope.SetActiveTransaction(tx)
	scope.StartMetering()
	scope.Logger().WithField("message", request.Action).Infof("transaction %d started", tx.TransactionID)
	scope.Notify("start.transaction", map[string]interface{}{"transaction": tx})

	if confirmation.IdTagInfo != nil {
		scope.CacheAuthorization(tx.IdTag, confirmation.IdTagInfo)
		if confirmation.IdTagInfo.Status != types.AuthorizationStatusAccepted {
			scope.Logger().WithField("message", request.Action).Warnf("id tag %v %v", tx.IdTag, confirmation.IdTagInfo.Status)
			return scope.StopTransaction(core.ReasonDeAuthorized)
		}
	}
	return nil
}

func onStopTransactionResult(scope ResultScope, request PendingRequest, payload json.RawMessage) error {
	var confirmation core.StopTransactionConfirmation
	if err := json.Unmarshal(payload, &confirmation); err != nil {
		return fmt.Errorf("decode stop transaction result: %w", err)
	}
	tx := scope.ActiveTransaction()
	scope.SetActiveTransaction(nil)
	scope.StopMetering()
	if tx != nil {
		scope.CacheAuthorization(tx.IdTag, confirmation.IdTagInfo)
		scope.Logger().WithField("message", request.Action).Infof("transaction %d stopped", tx.TransactionID)
	}
	scope.Notify("stop.transaction", map[string]interface{}{"transaction": tx})
	return nil
}

func onHeartbeatResult(scope ResultScope, request PendingRequest, payload json.RawMessage) error {
	var confirmation core.HeartbeatConfirmation
	if err := json.Unmarshal(payload, &confirmation); err != nil {
		return fmt.Errorf("decode heartbeat result: %w", err)
	}
	if confirmation.CurrentTime != nil {
		scope.Logger().WithField("message", request.Action).Debugf("server time %v", confirmation.CurrentTime.Time)
	}
	return nil
}

// resultScope exposes the dispatcher state to result handlers.
type resultScope struct {
	d *Dispatcher
}

func (s *resultScope) ActiveTransaction() *Transaction {
	return s.d.session.ActiveTransaction()
}

func (s *resultScope) SetActiveTransaction(tx *Transaction) {
	connector := s.d.session.Connector()
	if tx == nil {
		connector.stopTransaction()
	} else {
		connector.startTransaction(tx.TransactionID)
	}
	s.d.session.SetActiveTransaction(tx)
}

func (s *resultScope) Pending() []PendingRequest {
	return s.d.queue.Pending()
}

func (s *resultScope) StartMetering() {
	s.d.startMeteringLocked()
}

func (s *resultScope) StopMetering() {
	s.d.meter.EndSession()
	s.d.stopMeterTimerLocked()
}

func (s *resultScope) SetHeartbeat(seconds int) {
	s.d.session.SetHeartbeat(seconds)
}

func (s *resultScope) StartHeartbeat() {
	s.d.startHeartbeatTimerLocked()
}

func (s *resultScope) CacheAuthorization(idTag string, info *types.IdTagInfo) {
	if idTag == "" || info == nil {
		return
	}
	s.d.auth.Cache(idTag, entryFromIdTagInfo(idTag, info))
}

func (s *resultScope) StopTransaction(reason core.Reason) error {
	_, err := s.d.stopTransactionLocked(reason)
	return err
}

func (s *resultScope) Notify(topic string, data map[string]interface{}) {
	s.d.emitLocked(topic, data)
}

func (s *resultScope) Logger() *logrus.Entry {
	return s.d.log
}
