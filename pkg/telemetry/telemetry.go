// Package telemetry publishes scale readings to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/itohio/usbscale/pkg/config"
	"github.com/itohio/usbscale/pkg/link"
	"github.com/itohio/usbscale/pkg/meter"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "telemetry")

const (
	DefaultTopic   = "usbscale"
	DefaultTimeout = 5 * time.Second

	queueSize = 64
)

var ErrRejected = errors.New("broker rejected connection")

// Reading is the JSON payload published for every update.
type Reading struct {
	State   string    `json:"state"`
	Reading string    `json:"reading"`
	Value   float64   `json:"value"`
	Valid   bool      `json:"valid"`
	Average float64   `json:"average"`
	Samples int       `json:"samples"`
	Status  string    `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}

// NewReading converts a meter update to its payload.
func NewReading(u meter.Update) Reading {
	return Reading{
		State:   u.State.String(),
		Reading: u.Text,
		Value:   u.Value,
		Valid:   u.HasValue,
		Average: u.Average,
		Samples: u.Samples,
		Status:  u.Status,
		Time:    u.Time,
	}
}

// Publisher forwards meter updates to <topic>/reading and keeps the
// connection state retained on <topic>/state.
type Publisher struct {
	client  *paho.Client
	topic   string
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	updates chan meter.Update

	// Only touched by run
	state    link.State
	hasState bool

	wg sync.WaitGroup
}

// Dial connects to the broker configured in cfg.
func Dial(ctx context.Context, cfg *config.TelemetryConfig) (*Publisher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "usbscale-" + uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker %s: %w", cfg.Broker, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnClientError: func(err error) {
			log.WithError(err).Warn("MQTT client error")
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			log.WithField("reason", d.ReasonCode).Warn("Broker disconnected")
		},
	})

	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  30,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to broker %s: %w", cfg.Broker, err)
	}
	if ack.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: reason code %d", ErrRejected, ack.ReasonCode)
	}

	log.WithFields(logrus.Fields{"broker": cfg.Broker, "client": clientID, "topic": topic}).Info("Connected to broker")

	p := &Publisher{
		client:  client,
		topic:   topic,
		timeout: timeout,
		updates: make(chan meter.Update, queueSize),
	}

	p.wg.Add(1)
	go p.run()

	return p, nil
}

// Publish queues u for publishing. It never blocks; updates are dropped
// while the queue is full.
func (p *Publisher) Publish(u meter.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	select {
	case p.updates <- u:
	default:
		log.Warn("Telemetry queue full, dropping update")
	}
}

// Close publishes the queued updates and disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.updates)
	p.mu.Unlock()

	p.wg.Wait()
	return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for u := range p.updates {
		if !p.hasState || p.state != u.State {
			p.state = u.State
			p.hasState = true
			if err := p.publish(p.topic+"/state", []byte(u.State.String()), "text/plain", true); err != nil {
				log.WithError(err).Warn("Failed to publish state")
			}
		}

		payload, err := json.Marshal(NewReading(u))
		if err != nil {
			log.WithError(err).Error("Failed to encode reading")
			continue
		}
		if err := p.publish(p.topic+"/reading", payload, "application/json", false); err != nil {
			log.WithError(err).Warn("Failed to publish reading")
		}
	}
}

func (p *Publisher) publish(topic string, payload []byte, contentType string, retain bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.client.Publish(ctx, &paho.Publish{
		QoS:     0,
		Retain:  retain,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: contentType,
		},
	})
	return err
}
