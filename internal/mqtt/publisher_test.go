package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"ugps-bridge/internal/fusion"
	"ugps-bridge/internal/transport"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	open         bool
	token        *fakeToken
	published    []published
	disconnected bool
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func samplePublished() fusion.Published {
	return fusion.Published{
		Position: fusion.FusedPosition{Lat: 10.0001, Lon: 19.9998, Fix: fusion.Fix3D, HDOP: 1.2, Satellites: 8, Mode: fusion.ModeStatic},
		Seq:      7,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Topic: "ugps/fused", ClientID: "x"}, nil)
	require.ErrorContains(t, err, "mqtt broker is required")
	_, err = New(Config{Broker: "tcp://localhost:1883", ClientID: "x"}, nil)
	require.ErrorContains(t, err, "mqtt topic is required")
	_, err = New(Config{Broker: "tcp://localhost:1883", Topic: "t", ClientID: "x", QoS: 3}, nil)
	require.ErrorContains(t, err, "qos")
	_, err = New(Config{Broker: "tcp://localhost:1883", Topic: "t"}, nil)
	require.ErrorContains(t, err, "client id")
}

func TestPublish_SendsJSON(t *testing.T) {
	fc := &fakeClient{open: true, token: &fakeToken{done: true}}
	p := newPublisher(fc, Config{Topic: "ugps/fused", QoS: 1, Retained: true})

	require.NoError(t, p.Publish(context.Background(), samplePublished()))
	require.Len(t, fc.published, 1)
	got := fc.published[0]
	require.Equal(t, "ugps/fused", got.topic)
	require.EqualValues(t, 1, got.qos)
	require.True(t, got.retained)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(got.payload, &doc))
	require.EqualValues(t, 7, doc["seq"])
	pos := doc["position"].(map[string]any)
	require.InDelta(t, 10.0001, pos["lat"], 1e-12)
	require.Equal(t, "static", pos["mode"])
	require.EqualValues(t, 3, pos["fix"])
}

func TestPublish_NotConnected(t *testing.T) {
	fc := &fakeClient{open: false, token: &fakeToken{done: true}}
	p := newPublisher(fc, Config{Topic: "ugps/fused"})

	err := p.Publish(context.Background(), samplePublished())
	require.True(t, transport.IsKind(err, transport.TransportWriteFailure), "err=%v", err)
	require.Empty(t, fc.published)
}

func TestPublish_TimeoutAndError(t *testing.T) {
	fc := &fakeClient{open: true, token: &fakeToken{done: false}}
	p := newPublisher(fc, Config{Topic: "ugps/fused", PublishTimeout: time.Millisecond})
	err := p.Publish(context.Background(), samplePublished())
	require.ErrorContains(t, err, "not acknowledged")

	boom := errors.New("broker said no")
	fc.token = &fakeToken{done: true, err: boom}
	err = p.Publish(context.Background(), samplePublished())
	require.ErrorIs(t, err, boom)
	require.True(t, transport.IsKind(err, transport.TransportWriteFailure))
}

func TestClose(t *testing.T) {
	fc := &fakeClient{}
	newPublisher(fc, Config{Topic: "t"}).Close()
	require.True(t, fc.disconnected)

	var nilPub *Publisher
	nilPub.Close()
}
