package ocppclient

import (
	"math"
	"strconv"
	"time"
)

// MeterSession is one constant-power interval of the metering timeline.
// A nil End means the interval is still open.
type MeterSession struct {
	Start  time.Time  `json:"start"`
	End    *time.Time `json:"end,omitempty"`
	PowerW float64    `json:"powerW"`
}

func (s MeterSession) energyWh(now time.Time) float64 {
	end := now
	if s.End != nil {
		end = *s.End
	}
	ms := float64(end.Sub(s.Start).Milliseconds())
	wh := s.PowerW * ms / 3600000
	if wh < 0 || math.IsNaN(wh) {
		return 0
	}
	return wh
}

// MeteringSimulator integrates a constant power setting into delivered energy.
//
// Records are appended, never rewritten: closing a session appends a copy of the
// latest record with its end set to now. The timeline therefore grows by one
// record per tick for as long as a transaction runs.
type MeteringSimulator struct {
	sessions []MeterSession
	running  bool
	now      func() time.Time
	onHalt   func()
}

func NewMeteringSimulator(now func() time.Time) *MeteringSimulator {
	if now == nil {
		now = time.Now
	}
	return &MeteringSimulator{now: now}
}

// SetHaltHandler installs the callback EndSession uses to stop the periodic timer.
func (m *MeteringSimulator) SetHaltHandler(fn func()) {
	m.onHalt = fn
}

// StartSession opens a new session at the given power. A running session is
// closed first, so the new record starts where the closing record ends.
func (m *MeteringSimulator) StartSession(powerW float64) {
	now := m.now()
	if m.running {
		m.closeAt(now)
	}
	m.sessions = append(m.sessions, MeterSession{Start: now, PowerW: powerW})
	m.running = true
}

// Tick extends the current session up to now by appending a closing record.
func (m *MeteringSimulator) Tick() {
	if len(m.sessions) == 0 {
		return
	}
	m.closeAt(m.now())
}

// EndSession closes the current session and halts the periodic timer.
func (m *MeteringSimulator) EndSession() {
	if !m.running {
		return
	}
	m.Tick()
	m.running = false
	if m.onHalt != nil {
		m.onHalt()
	}
}

func (m *MeteringSimulator) closeAt(now time.Time) {
	last := m.sessions[len(m.sessions)-1]
	end := now
	m.sessions = append(m.sessions, MeterSession{Start: last.Start, End: &end, PowerW: last.PowerW})
}

// CurrentEnergyWh returns the energy of the most recent record, rounded to whole Wh.
func (m *MeteringSimulator) CurrentEnergyWh() string {
	if len(m.sessions) == 0 {
		return "0"
	}
	wh := m.sessions[len(m.sessions)-1].energyWh(m.now())
	return strconv.FormatFloat(math.Round(wh), 'f', 0, 64)
}

// TotalEnergyWh sums the latest record of every session chain in the timeline.
func (m *MeteringSimulator) TotalEnergyWh() int {
	now := m.now()
	latest := map[int64]int{}
	var starts []int64
	for i, s := range m.sessions {
		key := s.Start.UnixNano()
		if _, seen := latest[key]; !seen {
			starts = append(starts, key)
		}
		latest[key] = i
	}
	total := 0.0
	for _, start := range starts {
		total += m.sessions[latest[start]].energyWh(now)
	}
	return int(math.Round(total))
}

func (m *MeteringSimulator) Clear() {
	m.sessions = nil
	m.running = false
}

func (m *MeteringSimulator) Running() bool {
	return m.running
}

// PowerW is the power of the most recent record, 0 without records.
func (m *MeteringSimulator) PowerW() float64 {
	if len(m.sessions) == 0 {
		return 0
	}
	return m.sessions[len(m.sessions)-1].PowerW
}

func (m *MeteringSimulator) Sessions() []MeterSession {
	out := make([]MeterSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}
