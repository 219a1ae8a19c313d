package common

// Command is an operator request addressed to one simulated charge point.
type Command struct {
	Action        string      `json:"action" validate:"required"`
	ChargePointId string      `json:"chargePointId" validate:"required"`
	Payload       interface{} `json:"payload"`
}
