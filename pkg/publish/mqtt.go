// Package publish forwards glucose samples and heartbeat status to an MQTT broker
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultTopic          = "cgmbridge"
	defaultPublishTimeout = 5 * time.Second
	connectPollInterval   = 200 * time.Millisecond
)

// Topic suffixes
const (
	TopicSamples   = "samples"
	TopicError     = "error"
	TopicHeartbeat = "heartbeat"
)

// ErrStopped is returned when connecting a publisher that has been closed
var ErrStopped = errors.New("publisher stopped")

// Publisher denotes an MQTT publisher acting as host delegate of the bridge
type Publisher struct {
	client         mqtt.Client
	topic          string
	publishTimeout time.Duration

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	logger glucose.Logger
}

// New instantiates a new Publisher for the given broker (e.g. tcp://localhost:1883),
// executing functional options, if any
func New(broker, clientID string, options ...func(*Publisher)) *Publisher {
	p := &Publisher{
		topic:          defaultTopic,
		publishTimeout: defaultPublishTimeout,
		stopCh:         make(chan struct{}),
		logger:         &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(p)
	}

	if p.client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(broker)
		opts.SetClientID(clientID)
		opts.SetCleanSession(true)

		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(5 * time.Second)
		opts.SetMaxReconnectInterval(60 * time.Second)

		opts.SetKeepAlive(30 * time.Second)
		opts.SetPingTimeout(10 * time.Second)

		opts.SetOnConnectHandler(func(_ mqtt.Client) {
			p.setConnected(true)
			p.logger.Infof("connected to MQTT broker `%s`", broker)
		})
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.setConnected(false)
			p.logger.Warnf("lost connection to MQTT broker: %s", err)
		})

		p.client = mqtt.NewClient(opts)
	}

	return p
}

// Connect waits for the initial connection to the broker (retrying internally) until the
// context is done or the publisher is closed
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	for {
		if token.WaitTimeout(connectPollInterval) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("failed to connect to MQTT broker: %w", err)
			}
			p.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

// IsConnected returns if the publisher is connected to the broker
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()

	return connected && p.client.IsConnected()
}

// OnNewData publishes forwarded samples (one message per poll)
func (p *Publisher) OnNewData(samples glucose.Samples) {
	if err := p.publish(TopicSamples, false, samples); err != nil {
		p.logger.Errorf("failed to publish %d sample(s): %s", len(samples), err)
	}
}

// OnNoData does nothing, polls without data are not published
func (p *Publisher) OnNoData() {}

// OnError publishes the error of a failed poll
func (p *Publisher) OnError(err error) {
	msg := struct {
		Error     string    `json:"error"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
	if perr := p.publish(TopicError, false, msg); perr != nil {
		p.logger.Errorf("failed to publish poll error: %s", perr)
	}
}

// PublishStatus publishes the heartbeat status (retained)
func (p *Publisher) PublishStatus(status heartbeat.Status) error {
	msg := struct {
		heartbeat.Status
		Text string `json:"text"`
	}{
		Status: status,
		Text:   status.String(),
	}
	return p.publish(TopicHeartbeat, true, msg)
}

// Close disconnects from the broker. It is idempotent
func (p *Publisher) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.client.Disconnect(250)
		p.setConnected(false)
	})
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (p *Publisher) publish(suffix string, retained bool, v interface{}) error {
	if !p.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	topic := p.topic + "/" + suffix
	token := p.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(p.publishTimeout) {
		return fmt.Errorf("publish timeout for topic `%s`", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic `%s`: %w", topic, err)
	}

	p.logger.Debugf("published %d byte(s) to `%s`", len(data), topic)
	return nil
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
