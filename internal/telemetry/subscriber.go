// Package telemetry consumes GPS reports published by vehicle trackers over
// MQTT and forwards them to the location ingestor.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/location"
)

const (
	DefaultTopic = "fleet/vehicles/+/location"

	disconnectQuiesceMs = 250
	retryInterval       = 5 * time.Second
)

// Reporter is the location ingestor as seen by the subscriber.
type Reporter interface {
	ReportLocation(ctx context.Context, r location.Report) (location.Ack, error)
}

// Config describes the broker connection. Topic must contain exactly one
// single-level wildcard standing for the car id.
type Config struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       byte
}

// Subscriber forwards tracker reports to a Reporter.
type Subscriber struct {
	cfg       Config
	reporter  Reporter
	carIDSlot int
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// payload is the tracker message body. Timestamp is RFC 3339 or unix
// milliseconds; omitted means time of receipt.
type payload struct {
	Lat       *float64        `json:"lat"`
	Lng       *float64        `json:"lng"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// NewSubscriber validates cfg and creates a subscriber.
func NewSubscriber(cfg Config, reporter Reporter) (*Subscriber, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "fleet-monitor"
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	slot := -1
	for i, part := range strings.Split(cfg.Topic, "/") {
		if part == "+" {
			if slot >= 0 {
				return nil, fmt.Errorf("topic %q has more than one wildcard", cfg.Topic)
			}
			slot = i
		}
		if part == "#" {
			return nil, fmt.Errorf("topic %q: multi-level wildcard not supported", cfg.Topic)
		}
	}
	if slot < 0 {
		return nil, fmt.Errorf("topic %q has no car id wildcard", cfg.Topic)
	}

	return &Subscriber{
		cfg:       cfg,
		reporter:  reporter,
		carIDSlot: slot,
		newClient: mqtt.NewClient,
	}, nil
}

// Run connects to the broker, subscribes and blocks until ctx is
// cancelled. The client reconnects and resubscribes on its own.
func (s *Subscriber) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID + "-" + uuid.NewString()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.handle(ctx, msg)
		})
		go func() {
			<-token.Done()
			if err := token.Error(); err != nil {
				log.WithError(err).WithField("topic", s.cfg.Topic).Error("MQTT subscribe failed")
				return
			}
			log.WithField("topic", s.cfg.Topic).Info("Subscribed to telemetry topic")
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	client := s.newClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", s.cfg.BrokerURL, err)
		}
		log.WithField("broker", s.cfg.BrokerURL).Info("Connected to MQTT broker")
	case <-ctx.Done():
	}

	<-ctx.Done()
	client.Disconnect(disconnectQuiesceMs)
	log.Info("MQTT subscriber stopped")
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg mqtt.Message) {
	fields := log.Fields{"topic": msg.Topic()}

	report, err := s.decode(msg.Topic(), msg.Payload())
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Discarded telemetry message")
		return
	}

	ack, err := s.reporter.ReportLocation(ctx, report)
	if err != nil {
		entry := log.WithFields(fields).WithField("car_id", report.CarID).WithError(err)
		if fleet.IsDomainError(err) {
			entry.Warn("Telemetry report rejected")
		} else {
			entry.Error("Failed to apply telemetry report")
		}
		return
	}
	if !ack.Applied {
		log.WithFields(fields).WithField("car_id", report.CarID).Debug("Telemetry report was stale")
	}
}

func (s *Subscriber) decode(topic string, body []byte) (location.Report, error) {
	carID, err := s.carIDFromTopic(topic)
	if err != nil {
		return location.Report{}, err
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return location.Report{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Lat == nil || p.Lng == nil {
		return location.Report{}, errors.New("payload requires lat and lng")
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return location.Report{}, err
	}
	return location.Report{CarID: carID, Lat: *p.Lat, Lng: *p.Lng, Timestamp: ts}, nil
}

func (s *Subscriber) carIDFromTopic(topic string) (int64, error) {
	parts := strings.Split(topic, "/")
	if s.carIDSlot >= len(parts) {
		return 0, fmt.Errorf("topic %q does not match %q", topic, s.cfg.Topic)
	}
	id, err := strconv.ParseInt(parts[s.carIDSlot], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("topic %q: invalid car id", topic)
	}
	return id, nil
}

func parseTimestamp(raw json.RawMessage) (*time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("invalid timestamp %s", raw)
	}
	return &t, nil
}
