package actions

import (
	"charge_point/common"
)

type LocalAuthProfileActions struct {
	stations Stations
}

func InitializeLocalAuthProfileActions(stations Stations) LocalAuthProfileActions {
	return LocalAuthProfileActions{
		stations: stations,
	}
}

func (this *LocalAuthProfileActions) GetLocalList(chargePointID string, payload []byte, responseChannel chan common.Response) {
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	version, entries := d.LocalList()
	responseChannel <- common.Response{Payload: map[string]interface{}{
		"listVersion":            version,
		"localAuthorizationList": entries,
	}}
}

func (this *LocalAuthProfileActions) ClearCache(chargePointID string, payload []byte, responseChannel chan common.Response) {
	d := lookup(this.stations, chargePointID, responseChannel)
	if d == nil {
		return
	}
	d.ClearAuthorizationCache()
	logDefault(chargePointID, "ClearCache").Info("authorization cache cleared")
	responseChannel <- common.Response{Payload: map[string]interface{}{"status": "Accepted"}}
}
