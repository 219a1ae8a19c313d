// Package audit persists the session log of every charge point. Sinks are
// write-only: nothing in the simulator reads the records back.
package audit

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"charge_point/ocppclient"
)

// Record is the stored form of a session log entry, keyed by integers for
// compactness.
type Record struct {
	Station      string    `cbor:"1,keyasint"`
	Seq          uint64    `cbor:"2,keyasint"`
	ConnectionID string    `cbor:"3,keyasint,omitempty"`
	Direction    string    `cbor:"4,keyasint"`
	Timestamp    time.Time `cbor:"5,keyasint"`
	Frame        string    `cbor:"6,keyasint,omitempty"`
	Anomaly      string    `cbor:"7,keyasint,omitempty"`
	Detail       string    `cbor:"8,keyasint,omitempty"`
}

func newRecord(station string, entry ocppclient.LogEntry) Record {
	return Record{
		Station:      station,
		Seq:          entry.Seq,
		ConnectionID: entry.ConnectionID,
		Direction:    string(entry.Direction),
		Timestamp:    entry.Timestamp,
		Frame:        entry.Frame,
		Anomaly:      string(entry.Anomaly),
		Detail:       entry.Detail,
	}
}

var encMode cbor.EncMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create audit CBOR encoder mode: %v", err))
	}
}

// FileSink appends CBOR encoded records to a file.
// It is safe for concurrent use from multiple goroutines.
type FileSink struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{file: f, encoder: encMode.NewEncoder(f)}, nil
}

// Record writes one entry. Encoding errors are dropped; auditing must not
// disturb the charge point.
func (s *FileSink) Record(station string, entry ocppclient.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.encoder.Encode(newRecord(station, entry))
}

// Close is idempotent; later Record calls are ignored.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

var _ ocppclient.LogSink = (*FileSink)(nil)
