// internal/mqtt/publisher.go
//
// Package mqtt republishes controller events to an MQTT broker.
//
// Topics, below the configured prefix:
//
//	<prefix>/bridge/state                   online | offline (retained, LWT)
//	<prefix>/<controller>/readings          JSON snapshot (retained)
//	<prefix>/<controller>/reachable         true | false (retained)
//	<prefix>/<controller>/logs/<day|minute> JSON log entry (retained)
//	<prefix>/<controller>/found             JSON {endpoint, name}
//	<prefix>/toast                          message key
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tamzrod/classic-monitor/internal/device"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// publisher is the part of pahomqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Publisher is an events.Sink that forwards events to MQTT.
type Publisher struct {
	client     publisher
	disconnect func(quiesce uint)
	prefix     string
	qos        byte
	logger     *slog.Logger
}

// Connect creates a paho client and connects it.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "classic-monitor-" + uuid.NewString()[:8]
	}

	p := &Publisher{
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(p.topic("bridge", "state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.logger.Info("MQTT connected", "broker", cfg.Broker)
			p.publish(p.topic("bridge", "state"), []byte("online"), true)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	p.client = client
	p.disconnect = client.Disconnect

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return p, nil
}

// Close publishes the offline state and disconnects.
func (p *Publisher) Close() {
	token := p.client.Publish(p.topic("bridge", "state"), 1, true, []byte("offline"))
	token.WaitTimeout(time.Second)
	if p.disconnect != nil {
		p.disconnect(1000)
	}
	p.logger.Info("MQTT publisher stopped")
}

func (p *Publisher) topic(parts ...string) string {
	t := p.prefix
	for _, s := range parts {
		t += "/" + s
	}
	return t
}

// controllerTopic is a topic-safe controller id.
func controllerTopic(ep device.Endpoint) string { return ep.CacheName() }

func (p *Publisher) publish(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, p.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (p *Publisher) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("MQTT encode failed", "topic", topic, "err", err)
		return
	}
	p.publish(topic, payload, retained)
}

// ---- events.Sink ----

func (p *Publisher) OnReadings(ep device.Endpoint, r *device.Readings) {
	p.publishJSON(p.topic(controllerTopic(ep), "readings"), r, true)
}

func (p *Publisher) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	p.publishJSON(p.topic(controllerTopic(ep), "logs", kind.String()), e, true)
}

func (p *Publisher) OnToast(key string) {
	p.publish(p.topic("toast"), []byte(key), false)
}

func (p *Publisher) OnControllerFound(ep device.Endpoint, name string) {
	p.publishJSON(p.topic(controllerTopic(ep), "found"), struct {
		Endpoint device.Endpoint `json:"endpoint"`
		Name     string          `json:"name"`
	}{ep, name}, false)
}

func (p *Publisher) OnReachable(ep device.Endpoint, ok bool) {
	p.publish(p.topic(controllerTopic(ep), "reachable"), []byte(strconv.FormatBool(ok)), true)
}
