package actions

import (
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"charge_point/common"
	"charge_point/ocppclient"
)

type SmartChargingProfileActions struct {
	stations Stations
}

func InitializeSmartChargingProfileActions(stations Stations) SmartChargingProfileActions {
	return SmartChargingProfileActions{
		stations: stations,
	}
}

func (this *SmartChargingProfileActions) GetCompositeLimit(chargePointID string, payload []byte, responseChannel chan common.Response) {
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	composite := d.CompositeLimit()
	responseChannel <- common.Response{Payload: map[string]interface{}{
		"limit":     composite.Limit,
		"underflow": composite.Underflow,
		"sources":   composite.Sources,
		"powerW":    composite.Limit * d.Station().Ratings.Voltage,
	}}
}

func (this *SmartChargingProfileActions) GetChargingProfiles(chargePointID string, payload []byte, responseChannel chan common.Response) {
	if d := lookup(this.stations, chargePointID, responseChannel); d != nil {
		responseChannel <- common.Response{Payload: d.Profiles()}
	}
}

type clearChargingProfileRequest struct {
	Id                     *int                             `json:"id"`
	ChargingProfilePurpose types.ChargingProfilePurposeType `json:"chargingProfilePurpose" validate:"omitempty,oneof=ChargePointMaxProfile TxDefaultProfile TxProfile"`
	StackLevel             *int                             `json:"stackLevel" validate:"omitempty,gte=0"`
}

func (this *SmartChargingProfileActions) ClearChargingProfile(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := &clearChargingProfileRequest{}
	if err := decode(payload, request); err != nil {
		responseChannel <- common.Failure("command.clear.charging.profile.payload.not.valid",
			"Campos no validos para borrar perfiles de carga.")
		return
	}
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	cleared := d.ClearProfiles(ocppclient.ClearFilter{
		ID:         request.Id,
		Purpose:    request.ChargingProfilePurpose,
		StackLevel: request.StackLevel,
	})
	status := smartcharging.ClearChargingProfileStatusAccepted
	if cleared == 0 {
		status = smartcharging.ClearChargingProfileStatusUnknown
	}
	logDefault(chargePointID, smartcharging.ClearChargingProfileFeatureName).Infof("%v profiles cleared", cleared)
	responseChannel <- common.Response{Payload: map[string]interface{}{
		"status":  status,
		"cleared": cleared,
	}}
}

// SetChargingProfile installs a profile locally, as if the central system had
// sent it.
func (this *SmartChargingProfileActions) SetChargingProfile(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var profile ocppclient.ChargingProfile
	if err := decode(payload, &profile); err != nil {
		responseChannel <- common.Failure("command.set.charging.profile.payload.not.valid",
			fmt.Sprintf("Perfil de carga no valido: %v", err))
		return
	}
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	if err := d.InstallProfile(profile); err != nil {
		responseChannel <- common.Response{Payload: map[string]interface{}{
			"status":  smartcharging.ChargingProfileStatusRejected,
			"message": err.Error(),
		}}
		return
	}
	responseChannel <- common.Response{Payload: map[string]interface{}{
		"status": smartcharging.ChargingProfileStatusAccepted,
		"limit":  d.Limit(),
	}}
}
