// Package events publishes conversation lifecycle updates to an MQTT
// broker so external dashboards can observe running conversations
// without polling the monitor API. Publishing is optional and entirely
// fire-and-forget: a missing or unreachable broker never affects the
// turn loop.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/mthorsley/convoy/internal/config"
	"github.com/mthorsley/convoy/internal/registry"
)

// StatusEvent is the JSON payload published per conversation update.
type StatusEvent struct {
	ConversationID int    `json:"conversation_id"`
	Goal           string `json:"goal"`
	Caller         string `json:"caller"`
	Model          string `json:"model"`
	Status         string `json:"status"`
	CurrentTurn    int    `json:"current_turn"`
	MaxTurns       int    `json:"max_turns"`
	UpdatedAt      string `json:"updated_at"`
}

// Publisher mirrors registry state to MQTT. Wire its PublishAll as the
// monitor's refresh hook.
type Publisher struct {
	cfg    config.MQTTConfig
	reg    *registry.Registry
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewPublisher creates a Publisher but does not connect. Call
// [Publisher.Start] to establish the broker connection.
func NewPublisher(cfg config.MQTTConfig, reg *registry.Registry, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, reg: reg, logger: logger}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p.cfg.Broker != ""
}

// Start connects to the broker and publishes an online availability
// message. It returns once the connection manager is running; autopaho
// handles reconnects in the background.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishRetained(ctx, cm, availTopic, []byte("online"))
			// Re-publish current state so the broker catches up after a
			// reconnect.
			p.PublishAll()
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "convoy-" + p.instanceID(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes the offline availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishRetained(ctx, p.cm, p.availabilityTopic(), []byte("offline"))
	return p.cm.Disconnect(ctx)
}

// PublishAll pushes the current state of every registered conversation
// to its topic. Safe to call before Start or without a connection; it
// just does nothing.
func (p *Publisher) PublishAll() {
	if p.cm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, conv := range p.reg.GetAll() {
		event := StatusEvent{
			ConversationID: conv.ID,
			Goal:           conv.Goal,
			Caller:         conv.Caller,
			Model:          conv.Model,
			Status:         string(conv.Status),
			CurrentTurn:    conv.CurrentTurn,
			MaxTurns:       conv.MaxTurns,
			UpdatedAt:      conv.UpdatedAt.UTC().Format(time.RFC3339),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("mqtt marshal status event", "conversation", conv.ID, "error", err)
			continue
		}
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.conversationTopic(conv.ID),
			Payload: payload,
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt status publish failed", "conversation", conv.ID, "error", err)
		}
	}
}

func (p *Publisher) publishRetained(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (p *Publisher) instanceID() string {
	if p.cfg.InstanceID != "" {
		return p.cfg.InstanceID
	}
	return "default"
}

func (p *Publisher) baseTopic() string {
	return "convoy/" + p.instanceID()
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) conversationTopic(id int) string {
	return p.baseTopic() + "/conversations/" + strconv.Itoa(id)
}
