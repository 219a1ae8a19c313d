package ocppclient

import "errors"

// Protocol anomalies. None of them is fatal to the dispatcher: they are logged,
// recorded in the session log and the offending frame is dropped.
var (
	ErrDuplicateKey               = errors.New("message id already pending")
	ErrNotFound                   = errors.New("no pending request for message id")
	ErrUnsolicitedResponse        = errors.New("response without matching request")
	ErrMalformedFrame             = errors.New("malformed frame")
	ErrProfileResolutionUnderflow = errors.New("composite limit below zero")
)

// Anomaly names the kind of protocol anomaly recorded in the session log.
type Anomaly string

const (
	AnomalyDuplicateKey               Anomaly = "DuplicateKey"
	AnomalyUnsolicitedResponse        Anomaly = "UnsolicitedResponse"
	AnomalyMalformedFrame             Anomaly = "MalformedFrame"
	AnomalyProfileResolutionUnderflow Anomaly = "ProfileResolutionUnderflow"
	AnomalyCallError                  Anomaly = "CallError"
	AnomalyTransport                  Anomaly = "Transport"
)

// Errors returned to operators driving the charge point.
var (
	ErrTransactionActive   = errors.New("a transaction is already active")
	ErrNoActiveTransaction = errors.New("no active transaction")
	ErrIdTagBlocked        = errors.New("id tag is blocked")
	ErrTransactionStopping = errors.New("transaction is already stopping")
)
