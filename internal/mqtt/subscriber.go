package mqtt

import (
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const connectRetryInterval = 5 * time.Second

// Message is one raw payload received from the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber maintains the broker session and delivers raw messages on
// a buffered channel consumed by the ingest loop. Connection loss is a
// liveness concern, not a fatal one: paho reconnects and the topic is
// resubscribed on every successful connect.
type Subscriber struct {
	client   paho.Client
	topic    string
	messages chan Message
	log      *slog.Logger
}

// NewSubscriber configures a broker client for a single topic.
func NewSubscriber(brokerURL, clientID, topic string, buffer int, logger *slog.Logger) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscriber{
		topic:    topic,
		messages: make(chan Message, buffer),
		log:      logger.With("component", "mqtt"),
	}

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetOrderMatters(true)
	opts.OnConnect = func(c paho.Client) {
		s.log.Info("mqtt connected", "topic", s.topic)
		token := c.Subscribe(s.topic, 1, s.handle)
		if token.Wait() && token.Error() != nil {
			s.log.Error("mqtt subscribe failed", "topic", s.topic, "error", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Warn("mqtt connection lost", "error", err)
	}
	s.client = paho.NewClient(opts)
	return s
}

// Connect starts the broker session. With retry enabled this blocks
// until the first connect succeeds, so callers typically run it in its
// own goroutine.
func (s *Subscriber) Connect() error {
	token := s.client.Connect()
	token.Wait()
	return token.Error()
}

// Messages exposes the delivery channel.
func (s *Subscriber) Messages() <-chan Message {
	return s.messages
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	m := Message{Topic: msg.Topic(), Payload: msg.Payload()}
	select {
	case s.messages <- m:
	default:
		s.log.Warn("inbound buffer full, dropping message", "topic", msg.Topic())
	}
}
