// Package bridge mirrors sensor reports to an MQTT broker and accepts
// open/close requests from it.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"floorreg/internal/sensor"
)

const (
	stateSuffix = "state"
	setSuffix   = "set"

	disconnectQuiesce = 250 // ms
	publishTimeout    = 2 * time.Second
)

// Config holds broker connection settings.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Client is the subset of mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Sender queues a door command for a named sensor.
type Sender interface {
	Send(identity string, open bool, origin string) (sensor.Command, error)
}

// Connect dials the broker, retrying with exponential backoff. The client
// is disconnected when ctx is cancelled.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("broker", cfg.Broker).Msg("Failed to connect to MQTT broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, err)
	}

	log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")

	go func() {
		<-ctx.Done()
		client.Disconnect(disconnectQuiesce)
		log.Info().Msg("MQTT connection closed")
	}()

	return client, nil
}

// Bridge forwards reports to `<prefix>/<identity>/state` and listens on
// `<prefix>/+/set`.
type Bridge struct {
	client Client
	prefix string
	sender Sender
	log    zerolog.Logger
}

// New returns a Bridge. sender may be nil, in which case set requests are
// ignored.
func New(client Client, prefix string, sender Sender, log zerolog.Logger) *Bridge {
	return &Bridge{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		sender: sender,
		log:    log,
	}
}

// StateTopic is the topic a sensor's reports are published on.
func (b *Bridge) StateTopic(identity string) string {
	return b.prefix + "/" + identity + "/" + stateSuffix
}

func (b *Bridge) setFilter() string {
	return b.prefix + "/+/" + setSuffix
}

// Run subscribes to set requests and publishes every report until ctx is
// cancelled or reports is closed.
func (b *Bridge) Run(ctx context.Context, reports <-chan sensor.Report) error {
	filter := b.setFilter()
	if b.sender != nil {
		token := b.client.Subscribe(filter, 0, b.handleSet)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribing to %s: %w", filter, token.Error())
		}
		b.log.Info().Str("topic", filter).Msg("Subscribed to set requests")
		defer b.client.Unsubscribe(filter)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case rep, ok := <-reports:
			if !ok {
				return nil
			}
			if err := b.publish(rep); err != nil {
				b.log.Warn().Err(err).Str("name", rep.Identity).Msg("Failed to publish report")
			}
		}
	}
}

func (b *Bridge) publish(rep sensor.Report) error {
	// Topic levels cannot be empty or contain wildcards.
	if rep.Identity == "" || strings.ContainsAny(rep.Identity, "/+#") {
		b.log.Debug().Str("name", rep.Identity).Msg("Report identity is not a valid topic level")
		return nil
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	token := b.client.Publish(b.StateTopic(rep.Identity), 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", b.StateTopic(rep.Identity))
	}
	return token.Error()
}

func (b *Bridge) handleSet(_ mqtt.Client, msg mqtt.Message) {
	identity, ok := b.identityFromSetTopic(msg.Topic())
	if !ok {
		b.log.Debug().Str("topic", msg.Topic()).Msg("Ignoring message on unexpected topic")
		return
	}

	open, ok := ParseAction(msg.Payload())
	if !ok {
		b.log.Warn().
			Str("topic", msg.Topic()).
			Str("payload", string(msg.Payload())).
			Msg("Unrecognised set payload")
		return
	}

	if _, err := b.sender.Send(identity, open, "mqtt"); err != nil {
		b.log.Warn().Err(err).Str("name", identity).Msg("MQTT set request failed")
	}
}

func (b *Bridge) identityFromSetTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", false
	}
	identity, ok := strings.CutSuffix(rest, "/"+setSuffix)
	if !ok || identity == "" || strings.Contains(identity, "/") {
		return "", false
	}
	return identity, true
}

// ParseAction interprets a set payload. It accepts "open"/"close" in any
// case, "1"/"0", "true"/"false" and the device literals themselves.
func ParseAction(payload []byte) (open bool, ok bool) {
	s := strings.TrimSpace(string(payload))
	switch s {
	case sensor.OpenMessage:
		return true, true
	case sensor.CloseMessage:
		return false, true
	}
	switch strings.ToLower(s) {
	case "open", "1", "true", "on":
		return true, true
	case "close", "closed", "0", "false", "off":
		return false, true
	}
	return false, false
}
