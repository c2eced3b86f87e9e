// Package statestream mirrors Home Assistant's mqtt_statestream topics
// into the local state cache, so entity resolution works from fresh
// state without a REST round trip per turn.
//
// HA publishes one topic tree per entity under a configurable prefix:
//
//	<prefix>/<domain>/<object_id>/state       bare state string
//	<prefix>/<domain>/<object_id>/attributes  JSON attribute object
//
// The mirror subscribes to the whole prefix with Eclipse Paho v2's
// autopaho connection manager, which handles reconnection and
// re-subscription.
package statestream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/wrenly/hearth/internal/config"
	"github.com/wrenly/hearth/internal/homeassistant"
)

// Sink receives mirrored state. Implemented by the homeassistant
// state cache.
type Sink interface {
	Get(entityID string) (homeassistant.State, bool)
	Set(s homeassistant.State)
}

// Mirror subscribes to the statestream topic tree and applies updates
// to the sink.
type Mirror struct {
	cfg    config.MQTTConfig
	sink   Sink
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
	now    func() time.Time
}

// New creates a mirror but does not connect; call Start.
func New(cfg config.MQTTConfig, sink Sink, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Start connects to the broker and subscribes. It returns once the
// connection manager is running; autopaho reconnects in the
// background for the life of ctx.
func (m *Mirror) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	topicFilter := m.cfg.TopicPrefix + "/#"

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected, subscribing to statestream",
				"broker", m.cfg.BrokerURL,
				"filter", topicFilter,
			)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: topicFilter, QoS: 0},
				},
			}); err != nil {
				m.logger.Error("mqtt subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					m.apply(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		m.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cm == nil {
		return nil
	}
	return m.cm.Disconnect(ctx)
}

// apply routes one statestream message into the sink. Unrecognized
// topics and leaves are ignored; the statestream tree carries per-
// attribute topics this mirror does not need.
func (m *Mirror) apply(topic string, payload []byte) {
	entityID, leaf, ok := parseTopic(m.cfg.TopicPrefix, topic)
	if !ok {
		return
	}

	current, exists := m.sink.Get(entityID)
	if !exists {
		current = homeassistant.State{
			EntityID:   entityID,
			Attributes: map[string]any{},
		}
	}

	switch leaf {
	case "state":
		current.State = unquote(payload)
	case "attributes":
		var attrs map[string]any
		if err := json.Unmarshal(payload, &attrs); err != nil {
			m.logger.Debug("statestream attributes not JSON",
				"entity_id", entityID,
				"error", err,
			)
			return
		}
		current.Attributes = attrs
	default:
		return
	}

	current.LastUpdated = m.now()
	m.sink.Set(current)
}

// parseTopic extracts the entity ID and leaf from a statestream topic.
func parseTopic(prefix, topic string) (entityID, leaf string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0] + "." + parts[1], parts[2], true
}

// unquote tolerates statestream payloads published as JSON strings.
func unquote(payload []byte) string {
	s := string(payload)
	var unquoted string
	if err := json.Unmarshal(payload, &unquoted); err == nil {
		return unquoted
	}
	return s
}
