package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/itohio/usbscale/pkg/config"
	"github.com/itohio/usbscale/pkg/link"
	"github.com/itohio/usbscale/pkg/meter"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type message struct {
	topic   string
	payload []byte
	retain  bool
}

// startBroker spins up an in-process MQTT broker on a free local port.
func startBroker(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := l.Addr().String()
	require.NoError(t, l.Close())

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: address,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	return address
}

// subscribe connects a client receiving everything under filter.
func subscribe(t *testing.T, address, id, filter string) <-chan message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	require.NoError(t, err)

	messages := make(chan message, 100)
	client := paho.NewClient(paho.ClientConfig{
		ClientID: id,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				messages <- message{
					topic:   pr.Packet.Topic,
					payload: pr.Packet.Payload,
					retain:  pr.Packet.Retain,
				}
				return true, nil
			},
		},
	})

	_, err = client.Connect(ctx, &paho.Connect{ClientID: id, KeepAlive: 5, CleanStart: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(&paho.Disconnect{}) })

	_, err = client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 0}},
	})
	require.NoError(t, err)

	return messages
}

func receive(t *testing.T, messages <-chan message) message {
	t.Helper()
	select {
	case m := <-messages:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("no message received")
		return message{}
	}
}

func dial(t *testing.T, address, topic string) *Publisher {
	t.Helper()
	p, err := Dial(context.Background(), &config.TelemetryConfig{
		Enabled: true,
		Broker:  address,
		Topic:   topic,
		Timeout: waitTimeout,
	})
	require.NoError(t, err)
	return p
}

func TestNewReading(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewReading(meter.Update{
		Time:     now,
		State:    link.Connected,
		Text:     "-0.001",
		Value:    -0.001,
		HasValue: true,
		Average:  138301,
		Samples:  4,
	})

	assert.Equal(t, Reading{
		State:   "connected",
		Reading: "-0.001",
		Value:   -0.001,
		Valid:   true,
		Average: 138301,
		Samples: 4,
		Time:    now,
	}, r)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"connected","reading":"-0.001","value":-0.001,"valid":true,"average":138301,"samples":4,"time":"2026-01-02T03:04:05Z"}`, string(data))
}

func TestPublisher_RoundTrip(t *testing.T) {
	address := startBroker(t)
	messages := subscribe(t, address, "observer", "scale/#")

	p := dial(t, address, "scale")

	p.Publish(meter.Update{State: link.Connected, Text: "---"})
	p.Publish(meter.Update{State: link.Connected, Text: "-0.001", Value: -0.001, HasValue: true, Samples: 4})
	p.Publish(meter.Update{State: link.Disconnected, Text: "---", Status: "Disconnected"})
	require.NoError(t, p.Close())

	want := []struct {
		topic string
		check func(t *testing.T, payload []byte)
	}{
		{"scale/state", func(t *testing.T, payload []byte) { assert.Equal(t, "connected", string(payload)) }},
		{"scale/reading", func(t *testing.T, payload []byte) {
			var r Reading
			require.NoError(t, json.Unmarshal(payload, &r))
			assert.False(t, r.Valid)
			assert.Equal(t, "---", r.Reading)
		}},
		{"scale/reading", func(t *testing.T, payload []byte) {
			var r Reading
			require.NoError(t, json.Unmarshal(payload, &r))
			assert.True(t, r.Valid)
			assert.Equal(t, "-0.001", r.Reading)
			assert.Equal(t, 4, r.Samples)
		}},
		{"scale/state", func(t *testing.T, payload []byte) { assert.Equal(t, "disconnected", string(payload)) }},
		{"scale/reading", func(t *testing.T, payload []byte) {
			var r Reading
			require.NoError(t, json.Unmarshal(payload, &r))
			assert.Equal(t, "disconnected", r.State)
			assert.Equal(t, "Disconnected", r.Status)
		}},
	}

	for i, w := range want {
		t.Run(fmt.Sprintf("%d_%s", i, w.topic), func(t *testing.T) {
			m := receive(t, messages)
			assert.Equal(t, w.topic, m.topic)
			w.check(t, m.payload)
		})
	}
}

func TestPublisher_StateRetained(t *testing.T) {
	address := startBroker(t)

	p := dial(t, address, "scale")
	p.Publish(meter.Update{State: link.AwaitingPermission, Text: "---"})
	require.NoError(t, p.Close())

	messages := subscribe(t, address, "late-observer", "scale/state")
	m := receive(t, messages)
	assert.Equal(t, "scale/state", m.topic)
	assert.Equal(t, "awaiting permission", string(m.payload))
	assert.True(t, m.retain)
}

func TestPublisher_CloseIdempotent(t *testing.T) {
	address := startBroker(t)
	p := dial(t, address, "")

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	// Publishing after Close is a no-op
	p.Publish(meter.Update{State: link.Connected})
}

func TestDial_NoBroker(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = Dial(context.Background(), &config.TelemetryConfig{Broker: address, Timeout: time.Second})
	assert.Error(t, err)
}
