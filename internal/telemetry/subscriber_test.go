package telemetry

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-monitor/internal/db"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/location"
	"github.com/ukydev/fleet-monitor/internal/models"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) ReportLocation(ctx context.Context, r location.Report) (location.Ack, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(location.Ack), args.Error(1)
}

func newTestSubscriber(t *testing.T, reporter Reporter) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(Config{BrokerURL: "tcp://127.0.0.1:1883"}, reporter)
	require.NoError(t, err)
	return s
}

func TestNewSubscriber_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{BrokerURL: "tcp://broker:1883"}, false},
		{"custom topic", Config{BrokerURL: "tcp://broker:1883", Topic: "depot/3/+/gps"}, false},
		{"missing broker", Config{}, true},
		{"no wildcard", Config{BrokerURL: "tcp://broker:1883", Topic: "fleet/vehicles/location"}, true},
		{"two wildcards", Config{BrokerURL: "tcp://broker:1883", Topic: "fleet/+/+/location"}, true},
		{"multi-level wildcard", Config{BrokerURL: "tcp://broker:1883", Topic: "fleet/+/#"}, true},
		{"bad qos", Config{BrokerURL: "tcp://broker:1883", QoS: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSubscriber(tt.cfg, &mockReporter{})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubscriber_ForwardsReport(t *testing.T) {
	reporter := &mockReporter{}
	s := newTestSubscriber(t, reporter)

	want := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	reporter.On("ReportLocation", mock.Anything, mock.MatchedBy(func(r location.Report) bool {
		return r.CarID == 42 && r.Lat == 41.01 && r.Lng == 28.97 && r.Timestamp != nil && r.Timestamp.Equal(want)
	})).Return(location.Ack{CarID: 42, Applied: true, Timestamp: want}, nil).Once()

	s.handle(context.Background(), &fakeMessage{
		topic:   "fleet/vehicles/42/location",
		payload: []byte(`{"lat":41.01,"lng":28.97,"timestamp":"2025-03-01T09:30:00Z"}`),
	})

	reporter.AssertExpectations(t)
}

func TestSubscriber_DiscardsBadMessages(t *testing.T) {
	reporter := &mockReporter{}
	s := newTestSubscriber(t, reporter)

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"non numeric car id", "fleet/vehicles/abc/location", `{"lat":1,"lng":1}`},
		{"zero car id", "fleet/vehicles/0/location", `{"lat":1,"lng":1}`},
		{"short topic", "fleet", `{"lat":1,"lng":1}`},
		{"not json", "fleet/vehicles/1/location", `lat=1`},
		{"missing lng", "fleet/vehicles/1/location", `{"lat":1}`},
		{"bad timestamp", "fleet/vehicles/1/location", `{"lat":1,"lng":1,"timestamp":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.handle(context.Background(), &fakeMessage{topic: tt.topic, payload: []byte(tt.payload)})
		})
	}
	reporter.AssertNotCalled(t, "ReportLocation", mock.Anything, mock.Anything)
}

func TestSubscriber_ReporterErrorsAreAbsorbed(t *testing.T) {
	reporter := &mockReporter{}
	s := newTestSubscriber(t, reporter)

	reporter.On("ReportLocation", mock.Anything, mock.Anything).
		Return(location.Ack{}, &fleet.NotFoundError{Entity: "vehicle", ID: 7}).Once()
	reporter.On("ReportLocation", mock.Anything, mock.Anything).
		Return(location.Ack{}, errors.New("connection refused")).Once()

	msg := &fakeMessage{topic: "fleet/vehicles/7/location", payload: []byte(`{"lat":1,"lng":1}`)}
	assert.NotPanics(t, func() {
		s.handle(context.Background(), msg)
		s.handle(context.Background(), msg)
	})
	reporter.AssertExpectations(t)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp(nil)
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTimestamp([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTimestamp([]byte("1740821400000"))
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.Equal(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)))

	ts, err = parseTimestamp([]byte(`"2025-03-01T10:30:00+01:00"`))
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.Equal(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)))

	_, err = parseTimestamp([]byte(`true`))
	assert.Error(t, err)
}

func TestSubscriber_CustomTopicSlot(t *testing.T) {
	reporter := &mockReporter{}
	s, err := NewSubscriber(Config{BrokerURL: "tcp://broker:1883", Topic: "depot/3/+/gps"}, reporter)
	require.NoError(t, err)

	id, err := s.carIDFromTopic("depot/3/19/gps")
	require.NoError(t, err)
	assert.Equal(t, int64(19), id)
}

// Messages flow through to the real ingestor and respect last-writer-wins.
func TestSubscriber_WithIngestor(t *testing.T) {
	ctx := context.Background()
	clock := fleet.NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := db.NewMemoryStore(clock)
	v := &models.Vehicle{LicensePlate: "MQ-1", Status: models.VehicleAvailable}
	require.NoError(t, store.CreateVehicle(ctx, v))

	s := newTestSubscriber(t, location.NewIngestor(store, clock, nil))
	topic := "fleet/vehicles/" + strconv.FormatInt(v.ID, 10) + "/location"

	s.handle(ctx, &fakeMessage{topic: topic, payload: []byte(`{"lat":10,"lng":10,"timestamp":"2025-03-01T11:00:00Z"}`)})
	s.handle(ctx, &fakeMessage{topic: topic, payload: []byte(`{"lat":20,"lng":20,"timestamp":"2025-03-01T10:00:00Z"}`)})

	got, err := store.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Position)
	assert.Equal(t, 10.0, got.Position.Lat)
}

func TestSubscriber_RunStopsOnCancel(t *testing.T) {
	s, err := NewSubscriber(Config{BrokerURL: "tcp://127.0.0.1:1"}, &mockReporter{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
