package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReading_Fahrenheit(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
		want    float64
	}{
		{
			name:    "fahrenheit passes through",
			reading: Reading{Temperature: 225, Unit: UnitFahrenheit},
			want:    225,
		},
		{
			name:    "celsius converted",
			reading: Reading{Temperature: 100, Unit: UnitCelsius},
			want:    212,
		},
		{
			name:    "celsius below freezing",
			reading: Reading{Temperature: -40, Unit: UnitCelsius},
			want:    -40,
		},
		{
			name:    "missing unit defaults to fahrenheit",
			reading: Reading{Temperature: 75},
			want:    75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.reading.Fahrenheit(), 0.001)
		})
	}
}

func TestProbeKey_String(t *testing.T) {
	key := ProbeKey{DeviceID: "grill-1", ProbeID: "probe-2"}
	assert.Equal(t, "grill-1:probe-2", key.String())

	reading := Reading{DeviceID: "grill-1", ProbeID: "probe-2"}
	assert.Equal(t, key, reading.Key())
}

func TestParseProbeKey(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ProbeKey
		wantErr bool
	}{
		{
			name: "valid key",
			raw:  "grill-1:probe-2",
			want: ProbeKey{DeviceID: "grill-1", ProbeID: "probe-2"},
		},
		{
			name: "probe id may contain colons",
			raw:  "grill-1:probe:2",
			want: ProbeKey{DeviceID: "grill-1", ProbeID: "probe:2"},
		},
		{
			name:    "missing separator",
			raw:     "grill-1",
			wantErr: true,
		},
		{
			name:    "empty device",
			raw:     ":probe-2",
			wantErr: true,
		},
		{
			name:    "empty probe",
			raw:     "grill-1:",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProbeKey(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDeviceKey)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSession_Validate(t *testing.T) {
	end := testBase.Add(2 * time.Hour)
	before := testBase.Add(-time.Hour)

	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{
			name: "valid active session",
			session: Session{
				ID:          "sess_a",
				StartTime:   testBase,
				DevicesUsed: []string{"D1:P1"},
				Status:      SessionStatusActive,
			},
		},
		{
			name: "valid completed session",
			session: Session{
				ID:          "sess_a",
				StartTime:   testBase,
				EndTime:     &end,
				DevicesUsed: []string{"D1:P1"},
				Status:      SessionStatusCompleted,
				MaxTemp:     230,
				MinTemp:     180,
				AvgTemp:     210,
				SampleCount: 10,
			},
		},
		{
			name: "no devices",
			session: Session{
				ID:        "sess_a",
				StartTime: testBase,
				Status:    SessionStatusActive,
			},
			wantErr: true,
		},
		{
			name: "terminal without end time",
			session: Session{
				ID:          "sess_a",
				StartTime:   testBase,
				DevicesUsed: []string{"D1:P1"},
				Status:      SessionStatusCompleted,
			},
			wantErr: true,
		},
		{
			name: "active with end time",
			session: Session{
				ID:          "sess_a",
				StartTime:   testBase,
				EndTime:     &end,
				DevicesUsed: []string{"D1:P1"},
				Status:      SessionStatusActive,
			},
			wantErr: true,
		},
		{
			name: "ends before start",
			session: Session{
				ID:          "sess_a",
				StartTime:   testBase,
				EndTime:     &before,
				DevicesUsed: []string{"D1:P1"},
				Status:      SessionStatusCancelled,
			},
			wantErr: true,
		},
		{
			name: "inconsistent statistics",
			session: Session{
				ID:          "sess_a",
				StartTime:   testBase,
				DevicesUsed: []string{"D1:P1"},
				Status:      SessionStatusActive,
				MaxTemp:     100,
				MinTemp:     200,
				AvgTemp:     150,
				SampleCount: 5,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSession_Lifecycle(t *testing.T) {
	s := Session{Status: SessionStatusActive}
	assert.True(t, s.IsActive())
	assert.False(t, s.IsTerminal())

	s.Status = SessionStatusCompleted
	assert.False(t, s.IsActive())
	assert.True(t, s.IsTerminal())

	s.Status = SessionStatusCancelled
	assert.True(t, s.IsTerminal())
}

func TestSession_Duration(t *testing.T) {
	end := testBase.Add(3 * time.Hour)

	s := Session{StartTime: testBase}
	assert.Equal(t, time.Duration(0), s.Duration(), "no readings yet")

	s.LastReadingAt = testBase.Add(90 * time.Minute)
	assert.Equal(t, 90*time.Minute, s.Duration(), "active sessions measure to the last reading")

	s.EndTime = &end
	assert.Equal(t, 3*time.Hour, s.Duration(), "finished sessions measure to the end time")
}

func TestSession_UsesDevice(t *testing.T) {
	s := Session{DevicesUsed: []string{"D1:P1", "D1:P2"}}
	assert.True(t, s.UsesDevice("D1:P2"))
	assert.False(t, s.UsesDevice("D2:P1"))
}

func TestSession_DefaultName(t *testing.T) {
	s := Session{StartTime: time.Date(2026, 8, 1, 18, 30, 0, 0, time.UTC)}
	assert.Equal(t, "Cook 2026-08-01 18:30", s.DefaultName())
}
