package publish

import (
	"strings"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// WithTopic sets the topic prefix
func WithTopic(topic string) func(*Publisher) {
	return func(p *Publisher) {
		if topic = strings.TrimSuffix(topic, "/"); topic != "" {
			p.topic = topic
		}
	}
}

// WithPublishTimeout sets the maximum time to wait for a publish acknowledgement
func WithPublishTimeout(timeout time.Duration) func(*Publisher) {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithClient sets the MQTT client (instead of creating one for the broker)
func WithClient(client mqtt.Client) func(*Publisher) {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*Publisher) {
	return func(p *Publisher) {
		p.logger = logger
	}
}
