package ocppclient

import (
	"math"
	"strconv"
	"time"
)

const defaultHeartbeatInterval = 3600

// Direction of a session log entry.
type Direction string

const (
	DirectionIn      Direction = "IN"
	DirectionOut     Direction = "OUT"
	DirectionAnomaly Direction = "ANOMALY"
)

// LogEntry is one record of the session audit log. Anomaly entries carry the
// offending raw frame.
type LogEntry struct {
	Seq          uint64    `json:"seq"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Direction    Direction `json:"direction"`
	Timestamp    time.Time `json:"timestamp"`
	Frame        string    `json:"frame,omitempty"`
	Anomaly      Anomaly   `json:"anomaly,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Transaction is the charging transaction the server accepted.
type Transaction struct {
	TransactionID int       `json:"transactionId"`
	ConnectorID   int       `json:"connectorId"`
	MeterStart    int       `json:"meterStart"`
	IdTag         string    `json:"idTag"`
	StartedAt     time.Time `json:"startedAt"`
	Terminating   bool      `json:"terminating,omitempty"`
}

// Session holds the per-connection client state owned by the Dispatcher.
type Session struct {
	nextMessageID     uint64
	logs              []LogEntry
	activeTransaction *Transaction
	heartbeat         int
	limit             float64
	hardwareMax       float64
	connector         *Connector
}

func NewSession(connectorID int, hardwareMax float64) *Session {
	return &Session{
		nextMessageID: 1,
		heartbeat:     defaultHeartbeatInterval,
		limit:         hardwareMax,
		hardwareMax:   hardwareMax,
		connector:     NewConnector(connectorID),
	}
}

// NextMessageID allocates the id for the next outbound request.
func (s *Session) NextMessageID() string {
	id := s.nextMessageID
	s.nextMessageID++
	return strconv.FormatUint(id, 10)
}

// PeekMessageID returns the id the next allocation will hand out.
func (s *Session) PeekMessageID() string {
	return strconv.FormatUint(s.nextMessageID, 10)
}

func (s *Session) appendLog(entry LogEntry) LogEntry {
	entry.Seq = uint64(len(s.logs)) + 1
	s.logs = append(s.logs, entry)
	return entry
}

func (s *Session) Logs() []LogEntry {
	out := make([]LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Session) ActiveTransaction() *Transaction {
	if s.activeTransaction == nil {
		return nil
	}
	tx := *s.activeTransaction
	return &tx
}

func (s *Session) SetActiveTransaction(tx *Transaction) {
	if tx == nil {
		s.activeTransaction = nil
		return
	}
	copied := *tx
	s.activeTransaction = &copied
}

func (s *Session) Heartbeat() int {
	return s.heartbeat
}

// SetHeartbeat stores the server provided interval, falling back to the default
// for zero or negative values.
func (s *Session) SetHeartbeat(interval int) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	s.heartbeat = interval
}

func (s *Session) Limit() float64 {
	return s.limit
}

// SetLimit clamps value into [0, hardwareMax]. Out of range input is coerced,
// not rejected.
func (s *Session) SetLimit(value float64) {
	if math.IsNaN(value) {
		value = s.hardwareMax
	}
	s.limit = math.Max(0, math.Min(value, s.hardwareMax))
}

func (s *Session) HardwareMax() float64 {
	return s.hardwareMax
}

func (s *Session) Connector() *Connector {
	return s.connector
}
