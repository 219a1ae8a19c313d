package ocppclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/lorenzodonini/ocpp-go/ocppj"
	"github.com/sirupsen/logrus"

	"charge_point/authorization"
	"charge_point/catalog"
)

const (
	keyHeartbeatInterval        = "HeartbeatInterval"
	keyMeterValueSampleInterval = "MeterValueSampleInterval"
)

// callHandler answers a server initiated CALL. The returned value is sent as
// the CALLRESULT payload; a *CallError is sent as CALLERROR.
type callHandler func(payload json.RawMessage) (interface{}, error)

// CallError is the CALLERROR reply to a server CALL.
type CallError struct {
	Code        ocpp.ErrorCode
	Description string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func decodeCall(payload json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &CallError{Code: ocppj.FormatViolationV16, Description: err.Error()}
	}
	return nil
}

func (d *Dispatcher) defaultCallHandlers() map[string]callHandler {
	return map[string]callHandler{
		smartcharging.SetChargingProfileFeatureName:   d.onSetChargingProfile,
		smartcharging.ClearChargingProfileFeatureName: d.onClearChargingProfile,
		smartcharging.GetCompositeScheduleFeatureName: d.onGetCompositeSchedule,
		core.RemoteStartTransactionFeatureName:        d.onRemoteStartTransaction,
		core.RemoteStopTransactionFeatureName:         d.onRemoteStopTransaction,
		core.GetConfigurationFeatureName:              d.onGetConfiguration,
		core.ChangeConfigurationFeatureName:           d.onChangeConfiguration,
		core.ClearCacheFeatureName:                    d.onClearCache,
		localauth.SendLocalListFeatureName:            d.onSendLocalList,
		localauth.GetLocalListVersionFeatureName:      d.onGetLocalListVersion,
		remotetrigger.TriggerMessageFeatureName:       d.onTriggerMessage,
	}
}

// handleCallLocked replies to a server CALL using the server's message id.
// The outbound id counter is not touched.
func (d *Dispatcher) handleCallLocked(frame *Frame) {
	logger := d.log.WithField("message", frame.Action)
	d.afterReply = nil

	var response interface{}
	var err error
	if handler, ok := d.callHandlers[frame.Action]; ok {
		response, err = handler(frame.Payload)
	} else {
		err = &CallError{Code: ocppj.NotImplemented, Description: fmt.Sprintf("action %v not supported", frame.Action)}
	}

	if err != nil {
		var callErr *CallError
		if !errors.As(err, &callErr) {
			callErr = &CallError{Code: ocppj.InternalError, Description: err.Error()}
		}
		d.afterReply = nil
		logger.Warnf("call rejected: %v", callErr)
		data, encErr := EncodeCallError(frame.MessageID, callErr.Code, callErr.Description, nil)
		if encErr != nil {
			logger.Errorf("encode call error: %v", encErr)
			return
		}
		d.writeLocked(data)
		return
	}

	data, err := EncodeCallResult(frame.MessageID, response)
	if err != nil {
		logger.Errorf("encode call result: %v", err)
		d.afterReply = nil
		return
	}
	d.writeLocked(data)

	pending := d.afterReply
	d.afterReply = nil
	for _, fn := range pending {
		fn()
	}
}

func (d *Dispatcher) onSetChargingProfile(payload json.RawMessage) (interface{}, error) {
	var request smartcharging.SetChargingProfileRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	rejected := &smartcharging.SetChargingProfileConfirmation{Status: smartcharging.ChargingProfileStatusRejected}
	if request.ChargingProfile == nil {
		return rejected, nil
	}
	profile := ProfileFromOCPP(request.ChargingProfile)
	logger := d.log.WithFields(logrus.Fields{"message": smartcharging.SetChargingProfileFeatureName, "purpose": profile.Purpose})

	if profile.Purpose == types.ChargingProfilePurposeTxProfile {
		tx := d.session.activeTransaction
		if tx == nil || (profile.TransactionID != 0 && profile.TransactionID != tx.TransactionID) {
			logger.Warn("tx profile without matching transaction")
			return rejected, nil
		}
	}
	if err := d.profiles.Install(profile); err != nil {
		logger.Warn(err)
		return rejected, nil
	}
	logger.Infof("charging profile %d installed", profile.ID)
	d.emitLocked("charging.profile.set", map[string]interface{}{"profile": profile})
	return &smartcharging.SetChargingProfileConfirmation{Status: smartcharging.ChargingProfileStatusAccepted}, nil
}

func (d *Dispatcher) onClearChargingProfile(payload json.RawMessage) (interface{}, error) {
	var request smartcharging.ClearChargingProfileRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	removed := d.profiles.Clear(ClearFilter{
		ID:         request.Id,
		Purpose:    request.ChargingProfilePurpose,
		StackLevel: request.StackLevel,
	})
	if removed == 0 {
		return &smartcharging.ClearChargingProfileConfirmation{Status: smartcharging.ClearChargingProfileStatusUnknown}, nil
	}
	d.log.WithField("message", smartcharging.ClearChargingProfileFeatureName).Infof("%d charging profiles cleared", removed)
	return &smartcharging.ClearChargingProfileConfirmation{Status: smartcharging.ClearChargingProfileStatusAccepted}, nil
}

// onGetCompositeSchedule reports the limit in force now as a single period
// spanning the requested duration.
func (d *Dispatcher) onGetCompositeSchedule(payload json.RawMessage) (interface{}, error) {
	var request smartcharging.GetCompositeScheduleRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	if request.ConnectorId != 0 && request.ConnectorId != d.session.Connector().ID() {
		return &smartcharging.GetCompositeScheduleConfirmation{Status: smartcharging.GetCompositeScheduleStatusRejected}, nil
	}
	composite := d.resolveLocked()
	unit := request.ChargingRateUnit
	limit := composite.Limit
	if unit == types.ChargingRateUnitWatts {
		limit = limit * d.station.Ratings.Voltage
	} else {
		unit = types.ChargingRateUnitAmperes
	}
	duration := request.Duration
	connectorID := d.session.Connector().ID()
	return &smartcharging.GetCompositeScheduleConfirmation{
		Status:        smartcharging.GetCompositeScheduleStatusAccepted,
		ConnectorId:   &connectorID,
		ScheduleStart: types.NewDateTime(d.now()),
		ChargingSchedule: &types.ChargingSchedule{
			Duration:         &duration,
			ChargingRateUnit: unit,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: limit},
			},
		},
	}, nil
}

func (d *Dispatcher) onRemoteStartTransaction(payload json.RawMessage) (interface{}, error) {
	var request core.RemoteStartTransactionRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	logger := d.log.WithField("message", core.RemoteStartTransactionFeatureName)
	rejected := &core.RemoteStartTransactionConfirmation{Status: types.RemoteStartStopStatusRejected}

	if err := d.transactionBusyLocked(); err != nil {
		logger.Warn(err)
		return rejected, nil
	}
	if decision := d.auth.Lookup(request.IdTag); decision == authorization.Blocked {
		logger.Warnf("id tag %v blocked", request.IdTag)
		return rejected, nil
	}
	if request.ChargingProfile != nil {
		profile := ProfileFromOCPP(request.ChargingProfile)
		if profile.Purpose != types.ChargingProfilePurposeTxProfile {
			logger.Warnf("unexpected profile purpose %v", profile.Purpose)
			return rejected, nil
		}
		if err := d.profiles.Install(profile); err != nil {
			logger.Warn(err)
			return rejected, nil
		}
	}

	idTag := request.IdTag
	d.afterReply = append(d.afterReply, func() {
		if _, err := d.startTransactionLocked(idTag); err != nil {
			logger.Errorf("start transaction not sent: %v", err)
		}
	})
	return &core.RemoteStartTransactionConfirmation{Status: types.RemoteStartStopStatusAccepted}, nil
}

func (d *Dispatcher) onRemoteStopTransaction(payload json.RawMessage) (interface{}, error) {
	var request core.RemoteStopTransactionRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	tx := d.session.activeTransaction
	if tx == nil || tx.TransactionID != request.TransactionId || tx.Terminating {
		return &core.RemoteStopTransactionConfirmation{Status: types.RemoteStartStopStatusRejected}, nil
	}
	d.afterReply = append(d.afterReply, func() {
		if _, err := d.stopTransactionLocked(core.ReasonRemote); err != nil {
			d.log.WithField("message", core.RemoteStopTransactionFeatureName).Errorf("stop transaction not sent: %v", err)
		}
	})
	return &core.RemoteStopTransactionConfirmation{Status: types.RemoteStartStopStatusAccepted}, nil
}

func (d *Dispatcher) onGetConfiguration(payload json.RawMessage) (interface{}, error) {
	var request core.GetConfigurationRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	confirmation := &core.GetConfigurationConfirmation{}
	if len(request.Key) == 0 {
		for _, key := range d.configurationLocked() {
			confirmation.ConfigurationKey = append(confirmation.ConfigurationKey, wireConfigurationKey(key))
		}
		return confirmation, nil
	}
	known := map[string]catalog.ConfigurationKey{}
	for _, key := range d.configurationLocked() {
		known[key.Key] = key
	}
	for _, name := range request.Key {
		if key, ok := known[name]; ok {
			confirmation.ConfigurationKey = append(confirmation.ConfigurationKey, wireConfigurationKey(key))
		} else {
			confirmation.UnknownKey = append(confirmation.UnknownKey, name)
		}
	}
	return confirmation, nil
}

func wireConfigurationKey(key catalog.ConfigurationKey) core.ConfigurationKey {
	value := key.ValueString()
	return core.ConfigurationKey{Key: key.Key, Readonly: key.Readonly, Value: &value}
}

// configurationLocked lists the catalog keys plus the interval keys the
// dispatcher itself honours.
func (d *Dispatcher) configurationLocked() []catalog.ConfigurationKey {
	keys := append([]catalog.ConfigurationKey(nil), d.configuration...)
	present := map[string]bool{}
	for _, key := range keys {
		present[key.Key] = true
	}
	if !present[keyHeartbeatInterval] {
		keys = append(keys, catalog.ConfigurationKey{Key: keyHeartbeatInterval, Value: d.session.Heartbeat()})
	}
	if !present[keyMeterValueSampleInterval] {
		keys = append(keys, catalog.ConfigurationKey{Key: keyMeterValueSampleInterval, Value: int(d.meterInterval.Seconds())})
	}
	return keys
}

func (d *Dispatcher) onChangeConfiguration(payload json.RawMessage) (interface{}, error) {
	var request core.ChangeConfigurationRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	logger := d.log.WithFields(logrus.Fields{"message": core.ChangeConfigurationFeatureName, "key": request.Key})
	reply := func(status core.ConfigurationStatus) (interface{}, error) {
		logger.Infof("configuration change %v", status)
		return &core.ChangeConfigurationConfirmation{Status: status}, nil
	}

	index := -1
	for i, key := range d.configuration {
		if key.Key == request.Key {
			index = i
			break
		}
	}
	if index >= 0 && d.configuration[index].Readonly {
		return reply(core.ConfigurationStatusRejected)
	}

	switch request.Key {
	case keyHeartbeatInterval, keyMeterValueSampleInterval:
		seconds, err := strconv.Atoi(strings.TrimSpace(request.Value))
		if err != nil || seconds <= 0 {
			return reply(core.ConfigurationStatusRejected)
		}
		if request.Key == keyHeartbeatInterval {
			d.session.SetHeartbeat(seconds)
		} else {
			d.meterInterval = time.Duration(seconds) * time.Second
		}
	default:
		if index < 0 {
			return reply(core.ConfigurationStatusNotSupported)
		}
	}
	if index >= 0 {
		d.configuration[index].Value = request.Value
	}
	return reply(core.ConfigurationStatusAccepted)
}

func (d *Dispatcher) onClearCache(payload json.RawMessage) (interface{}, error) {
	var request core.ClearCacheRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	d.auth.ClearCache()
	return &core.ClearCacheConfirmation{Status: core.ClearCacheStatusAccepted}, nil
}

func (d *Dispatcher) onSendLocalList(payload json.RawMessage) (interface{}, error) {
	var request localauth.SendLocalListRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	entries := make([]authorization.Entry, 0, len(request.LocalAuthorizationList))
	for _, data := range request.LocalAuthorizationList {
		entries = append(entries, entryFromIdTagInfo(data.IdTag, data.IdTagInfo))
	}
	full := request.UpdateType == localauth.UpdateTypeFull
	if err := d.auth.UpdateList(request.ListVersion, full, entries); err != nil {
		d.log.WithField("message", localauth.SendLocalListFeatureName).Warn(err)
		if errors.Is(err, authorization.ErrVersionMismatch) {
			return &localauth.SendLocalListConfirmation{Status: localauth.UpdateStatusVersionMismatch}, nil
		}
		return &localauth.SendLocalListConfirmation{Status: localauth.UpdateStatusFailed}, nil
	}
	return &localauth.SendLocalListConfirmation{Status: localauth.UpdateStatusAccepted}, nil
}

func (d *Dispatcher) onGetLocalListVersion(payload json.RawMessage) (interface{}, error) {
	var request localauth.GetLocalListVersionRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	return &localauth.GetLocalListVersionConfirmation{ListVersion: d.auth.ListVersion()}, nil
}

// onTriggerMessage accepts the trigger and sends the requested message once
// the confirmation has been written.
func (d *Dispatcher) onTriggerMessage(payload json.RawMessage) (interface{}, error) {
	var request remotetrigger.TriggerMessageRequest
	if err := decodeCall(payload, &request); err != nil {
		return nil, err
	}
	var send func() (string, error)
	switch string(request.RequestedMessage) {
	case core.BootNotificationFeatureName:
		send = d.bootNotificationLocked
	case core.HeartbeatFeatureName:
		send = func() (string, error) { return d.sendLocked(core.HeartbeatFeatureName, core.NewHeartbeatRequest()) }
	case core.StatusNotificationFeatureName:
		send = func() (string, error) { return d.statusNotificationLocked(d.session.Connector().Status()) }
	case core.MeterValuesFeatureName:
		send = func() (string, error) {
			if d.meter.Running() {
				d.meter.Tick()
			}
			d.sendMeterValuesLocked()
			return "", nil
		}
	default:
		return &remotetrigger.TriggerMessageConfirmation{Status: remotetrigger.TriggerMessageStatusNotImplemented}, nil
	}
	d.afterReply = append(d.afterReply, func() {
		if _, err := send(); err != nil {
			d.log.WithField("message", remotetrigger.TriggerMessageFeatureName).Errorf("triggered %v not sent: %v", request.RequestedMessage, err)
		}
	})
	return &remotetrigger.TriggerMessageConfirmation{Status: remotetrigger.TriggerMessageStatusAccepted}, nil
}

func entryFromIdTagInfo(idTag string, info *types.IdTagInfo) authorization.Entry {
	entry := authorization.Entry{IdTag: idTag}
	if info == nil {
		return entry
	}
	entry.Status = string(info.Status)
	entry.ParentIdTag = info.ParentIdTag
	if info.ExpiryDate != nil {
		expiry := info.ExpiryDate.Time
		entry.ExpiryDate = &expiry
	}
	return entry
}
