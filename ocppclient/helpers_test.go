package ocppclient

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"charge_point/catalog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockTransport struct {
	mock.Mock
	mu     sync.Mutex
	frames [][]byte
}

func (m *mockTransport) Write(data []byte) error {
	m.mu.Lock()
	m.frames = append(m.frames, append([]byte(nil), data...))
	m.mu.Unlock()
	args := m.Called(data)
	return args.Error(0)
}

func (m *mockTransport) Frames() []*Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Frame, 0, len(m.frames))
	for _, data := range m.frames {
		frame, err := ParseFrame(data)
		if err != nil {
			panic(err)
		}
		out = append(out, frame)
	}
	return out
}

func (m *mockTransport) Last(t *testing.T) *Frame {
	frames := m.Frames()
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

type recordingSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (s *recordingSink) Record(station string, entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func testStation() catalog.Station {
	return catalog.Station{
		Name:        "100001",
		User:        "100001",
		Pass:        "100001",
		ConnectorID: 1,
		Props: catalog.Props{
			ChargePointVendor: "FutureCP",
			ChargePointModel:  "m1",
		},
		ConfigurationKey: []catalog.ConfigurationKey{
			{Key: "ChargeProfileMaxStackLevel", Readonly: true, Value: 5},
			{Key: "AuthorizeRemoteTxRequests", Value: "true"},
		},
		Ratings: catalog.Ratings{Amp: 30, Voltage: 208},
	}
}

type fixture struct {
	d         *Dispatcher
	clock     *fakeClock
	transport *mockTransport
	sink      *recordingSink
	hook      *test.Hook
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, configure func(*Options)) *fixture {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clock := newFakeClock()
	transport := &mockTransport{}
	transport.On("Write", mock.Anything).Return(nil)
	sink := &recordingSink{}

	opts := Options{
		Station:       testStation(),
		Transport:     transport,
		Logger:        logger.WithField("client", "100001"),
		MeterInterval: time.Hour,
		Now:           clock.Now,
		Sinks:         []LogSink{sink},
	}
	if configure != nil {
		configure(&opts)
	}
	d := New(opts)
	t.Cleanup(d.Close)
	return &fixture{d: d, clock: clock, transport: transport, sink: sink, hook: hook}
}

func (f *fixture) receive(frame string) {
	f.d.HandleFrame([]byte(frame))
}

func decodePayload(t *testing.T, frame *Frame, v interface{}) {
	require.NoError(t, json.Unmarshal(frame.Payload, v))
}

func anomalies(entries []LogEntry) []Anomaly {
	var out []Anomaly
	for _, entry := range entries {
		if entry.Direction == DirectionAnomaly {
			out = append(out, entry.Anomaly)
		}
	}
	return out
}
