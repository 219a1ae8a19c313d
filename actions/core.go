package actions

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/ocppclient"
)

func logDefault(chargePointId string, feature string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"client": chargePointId, "message": feature})
}

// Stations resolves a running charge point by name.
type Stations interface {
	Dispatcher(chargePointID string) (*ocppclient.Dispatcher, error)
}

var Validator = validator.New()

// lookup replies on responseChannel and returns nil when the station is not running.
func lookup(stations Stations, chargePointID string, responseChannel chan common.Response) *ocppclient.Dispatcher {
	d, err := stations.Dispatcher(chargePointID)
	if err != nil {
		responseChannel <- common.Failure("command.charge.point.not.found",
			fmt.Sprintf("El Punto de Carga %v no esta en ejecucion", chargePointID))
		return nil
	}
	return d
}

// decode unmarshals payload into request and validates it. An empty payload
// is accepted as an empty object.
func decode(payload []byte, request interface{}) error {
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, request); err != nil {
			return err
		}
	}
	return Validator.Struct(request)
}

func sent(chargePointID string, feature string, messageID string, err error, responseChannel chan common.Response) {
	var response common.Response
	if err != nil {
		logDefault(chargePointID, feature).Errorf("couldn't send message: %v", err)
		response.Err = &common.Error{
			Code:    "command.message.not.send",
			Message: fmt.Sprintf("No se pudo enviar el comando al Sistema Central: %v", err),
		}
	} else {
		response.Payload = map[string]interface{}{
			"messageId": messageID,
			"action":    feature,
		}
	}
	responseChannel <- response
}

type CoreProfileActions struct {
	stations Stations
}

func InitializeCoreProfileActions(stations Stations) CoreProfileActions {
	return CoreProfileActions{
		stations: stations,
	}
}

func (this *CoreProfileActions) BootNotification(chargePointID string, payload []byte, responseChannel chan common.Response) {
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	messageID, err := d.BootNotification()
	sent(chargePointID, core.BootNotificationFeatureName, messageID, err, responseChannel)
}

type idTagRequest struct {
	IdTag string `json:"idTag" validate:"required,max=20"`
}

func (this *CoreProfileActions) Authorize(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := &idTagRequest{}
	if err := decode(payload, request); err != nil {
		responseChannel <- common.Failure("command.authorize.payload.not.valid", "El campo idTag es obligatorio.")
		return
	}
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	messageID, err := d.Authorize(request.IdTag)
	sent(chargePointID, core.AuthorizeFeatureName, messageID, err, responseChannel)
}

func (this *CoreProfileActions) StartTransaction(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := &idTagRequest{}
	if err := decode(payload, request); err != nil {
		responseChannel <- common.Failure("command.start.transaction.payload.not.valid", "El campo idTag es obligatorio.")
		return
	}
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	messageID, err := d.StartTransaction(request.IdTag)
	switch {
	case errors.Is(err, ocppclient.ErrTransactionActive):
		responseChannel <- common.Failure("command.start.transaction.not.allowed", "Ya existe una transaccion activa.")
	case errors.Is(err, ocppclient.ErrIdTagBlocked):
		responseChannel <- common.Failure("command.start.transaction.id.tag.blocked",
			fmt.Sprintf("El idTag %v esta bloqueado.", request.IdTag))
	default:
		sent(chargePointID, core.StartTransactionFeatureName, messageID, err, responseChannel)
	}
}

type stopTransactionRequest struct {
	Reason core.Reason `json:"reason" validate:"omitempty,oneof=DeAuthorized EmergencyStop EVDisconnected HardReset Local Other PowerLoss Reboot Remote SoftReset UnlockCommand"`
}

func (this *CoreProfileActions) StopTransaction(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := &stopTransactionRequest{}
	if err := decode(payload, request); err != nil {
		responseChannel <- common.Failure("command.stop.transaction.payload.not.valid", "El motivo de parada no es valido.")
		return
	}
	if request.Reason == "" {
		request.Reason = core.ReasonLocal
	}
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	messageID, err := d.StopTransaction(request.Reason)
	switch {
	case errors.Is(err, ocppclient.ErrNoActiveTransaction):
		responseChannel <- common.Failure("command.stop.transaction.not.allowed", "No existe una transaccion activa.")
	case errors.Is(err, ocppclient.ErrTransactionStopping):
		responseChannel <- common.Failure("command.stop.transaction.in.progress", "La transaccion ya se esta deteniendo.")
	default:
		sent(chargePointID, core.StopTransactionFeatureName, messageID, err, responseChannel)
	}
}

func (this *CoreProfileActions) Heartbeat(chargePointID string, payload []byte, responseChannel chan common.Response) {
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	messageID, err := d.Heartbeat()
	sent(chargePointID, core.HeartbeatFeatureName, messageID, err, responseChannel)
}

type statusNotificationRequest struct {
	Status core.ChargePointStatus `json:"status" validate:"required,oneof=Available Preparing Charging SuspendedEVSE SuspendedEV Finishing Reserved Unavailable Faulted"`
}

func (this *CoreProfileActions) StatusNotification(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := &statusNotificationRequest{}
	if err := decode(payload, request); err != nil {
		responseChannel <- common.Failure("command.status.notification.payload.not.valid", "El estado del conector no es valido.")
		return
	}
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	messageID, err := d.StatusNotification(request.Status)
	sent(chargePointID, core.StatusNotificationFeatureName, messageID, err, responseChannel)
}

func (this *CoreProfileActions) GetLogs(chargePointID string, payload []byte, responseChannel chan common.Response) {
	if d := lookup(this.stations, chargePointID, responseChannel); d != nil {
		responseChannel <- common.Response{Payload: d.Logs()}
	}
}

func (this *CoreProfileActions) GetPending(chargePointID string, payload []byte, responseChannel chan common.Response) {
	if d := lookup(this.stations, chargePointID, responseChannel); d != nil {
		responseChannel <- common.Response{Payload: d.Pending()}
	}
}

func (this *CoreProfileActions) GetState(chargePointID string, payload []byte, responseChannel chan common.Response) {
	if d := lookup(this.stations, chargePointID, responseChannel); d != nil {
		responseChannel <- common.Response{Payload: d.Snapshot()}
	}
}
