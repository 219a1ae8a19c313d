package ocppclient

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

type Connector struct {
	id                 int
	status             core.ChargePointStatus
	currentTransaction int
}

func NewConnector(id int) *Connector {
	return &Connector{id: id, status: core.ChargePointStatusAvailable, currentTransaction: -1}
}

func (this *Connector) ID() int {
	return this.id
}

func (this *Connector) Status() core.ChargePointStatus {
	return this.status
}

func (this *Connector) setStatus(status core.ChargePointStatus) {
	this.status = status
}

func (this *Connector) hasTransactionInProgress() bool {
	return this.currentTransaction >= 0
}

func (this *Connector) startTransaction(transactionId int) {
	this.currentTransaction = transactionId
	this.status = core.ChargePointStatusCharging
}

func (this *Connector) stopTransaction() {
	this.currentTransaction = -1
	this.status = core.ChargePointStatusAvailable
}
