package events

import (
	"testing"

	"github.com/mthorsley/convoy/internal/config"
	"github.com/mthorsley/convoy/internal/registry"
)

func TestTopics(t *testing.T) {
	p := NewPublisher(config.MQTTConfig{Broker: "mqtt://broker:1883", InstanceID: "lab"}, registry.New(), nil)

	if got := p.availabilityTopic(); got != "convoy/lab/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
	if got := p.conversationTopic(7); got != "convoy/lab/conversations/7" {
		t.Errorf("conversationTopic = %q", got)
	}
}

func TestInstanceIDDefault(t *testing.T) {
	p := NewPublisher(config.MQTTConfig{Broker: "mqtt://broker:1883"}, registry.New(), nil)
	if got := p.baseTopic(); got != "convoy/default" {
		t.Errorf("baseTopic = %q", got)
	}
}

func TestEnabled(t *testing.T) {
	if NewPublisher(config.MQTTConfig{}, registry.New(), nil).Enabled() {
		t.Error("empty broker should disable the publisher")
	}
	if !NewPublisher(config.MQTTConfig{Broker: "mqtt://b:1883"}, registry.New(), nil).Enabled() {
		t.Error("configured broker should enable the publisher")
	}
}

func TestPublishAllWithoutConnectionIsNoop(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Conversation{Goal: "g", Model: "m", MaxTurns: 3})

	p := NewPublisher(config.MQTTConfig{Broker: "mqtt://b:1883"}, reg, nil)
	p.PublishAll() // must not panic before Start
}
