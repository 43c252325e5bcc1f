package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pc-switch/internal/logic"
)

// DefaultBufferSize is how many messages are kept while the broker is
// unreachable.
const DefaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	EventsTopic string
	SystemTopic string
	BufferSize  int
}

// RealPublisher publishes to an actual MQTT broker. It never blocks start-up
// on the broker: messages published while disconnected are buffered and
// replayed on (re)connect.
type RealPublisher struct {
	client paho.Client
	events string
	system string

	mu  sync.Mutex
	out *outbox
}

// NewRealPublisher creates a publisher and starts connecting in the background.
func NewRealPublisher(o Options) *RealPublisher {
	size := o.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &RealPublisher{
		events: o.EventsTopic,
		system: o.SystemTopic,
		out:    newOutbox(size),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "connection lost"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.SystemTopic, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// onConnect replays anything buffered while the broker was unreachable.
// paho runs it on its own goroutine.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	msgs, evicted := p.out.take()
	p.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d queued message(s), %d evicted", len(msgs), evicted)
	for _, m := range msgs {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// Publish sends a relay event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(p.events, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(p.system, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.out.add(pending{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.size()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
