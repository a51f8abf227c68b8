package timesource

import "time"

// Mock is a test/simulation Collaborator with a settable fix state.
type Mock struct {
	locked  bool
	now     time.Time
	stratum uint8
	quality uint8
	tag     Tag
}

// NewMock returns a GPS-like mock that is locked by default.
func NewMock() *Mock {
	return &Mock{locked: true, stratum: TagGPS.stratumDefault(), quality: 100, tag: TagGPS}
}

func (t Tag) stratumDefault() uint8 {
	switch t {
	case TagGPS:
		return 0
	case TagNTP:
		return 1
	case TagSerial:
		return 2
	default:
		return MaxStratum
	}
}

func (m *Mock) SetLocked(locked bool)   { m.locked = locked }
func (m *Mock) SetNow(now time.Time)    { m.now = now }
func (m *Mock) NowUTC() (time.Time, bool) {
	if !m.locked {
		return time.Time{}, false
	}
	return m.now, true
}
func (m *Mock) Stratum() uint8 { return m.stratum }
func (m *Mock) Quality() uint8 { return m.quality }
func (m *Mock) Tag() Tag       { return m.tag }
