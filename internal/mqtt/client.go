// Package mqtt bridges the agent to an MQTT broker with Home Assistant discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"splendid-controller/internal/config"
	"splendid-controller/internal/core"
	"splendid-controller/internal/splendid"
)

const (
	publishTimeout  = 5 * time.Second
	dispatchTimeout = 15 * time.Second
)

// Subtopics the client subscribes to, relative to the topic prefix.
var commandTopics = []string{
	"dimming/set",
	"mode/set",
	"ereading/set",
	"sync",
	"routine/run",
	"routine/stop",
}

// Client publishes the display state and turns incoming messages into agent commands.
type Client struct {
	client   paho.Client
	cfg      config.MQTTConfig
	state    *core.State
	eventBus *core.EventBus
	commands core.CommandChannel
	prefix   string
	log      *log.Entry
}

// NewClient creates the client. It returns nil when MQTT is disabled.
func NewClient(cfg config.MQTTConfig, state *core.State, eb *core.EventBus, commands core.CommandChannel) *Client {
	if !cfg.Enabled {
		return nil
	}

	c := &Client{
		cfg:      cfg,
		state:    state,
		eventBus: eb,
		commands: commands,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		log:      log.WithField("component", "mqtt"),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	// Keep retrying when the broker is not up yet at startup.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetWill(c.topic("availability"), "offline", 1, true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.WithError(err).Warn("connection lost, reconnecting in background")
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.log.Debug("attempting to reconnect")
	})

	c.client = paho.NewClient(opts)
	return c
}

func (c *Client) topic(subtopic string) string {
	return c.prefix + "/" + subtopic
}

// Connect starts the connection loop and waits for the first handshake.
func (c *Client) Connect() error {
	c.log.WithField("broker", c.cfg.Broker).Info("connecting to broker")
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Run publishes state and routine changes until ctx ends.
func (c *Client) Run(ctx context.Context) {
	types := []core.EventType{core.StateChangedEvent, core.RoutineChangedEvent}
	sub := c.eventBus.Subscribe(types...)
	defer c.eventBus.Unsubscribe(sub, types...)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			switch event.Type {
			case core.StateChangedEvent:
				c.publishState()
			case core.RoutineChangedEvent:
				name, _ := event.Payload.(string)
				c.Publish("routine/state", name, true)
			}
		}
	}
}

// Disconnect publishes the offline status, then closes the connection.
func (c *Client) Disconnect() {
	if !c.client.IsConnected() {
		return
	}
	token := c.client.Publish(c.topic("availability"), 1, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		c.log.Warn("timed out publishing offline status")
	} else if token.Error() != nil {
		c.log.WithError(token.Error()).Warn("failed to publish offline status")
	}
	c.client.Disconnect(250)
	c.log.Info("disconnected")
}

// Publish sends payload to prefix/subtopic without blocking the caller.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if !c.client.IsConnected() {
		return
	}
	topic := c.topic(subtopic)
	token := c.client.Publish(topic, 0, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			c.log.WithField("topic", topic).Warn("publish timed out")
		} else if token.Error() != nil {
			c.log.WithError(token.Error()).WithField("topic", topic).Warn("publish failed")
		}
	}()
}

func (c *Client) publishState() {
	for subtopic, payload := range stateMessages(c.state.Snapshot()) {
		c.Publish(subtopic, payload, true)
	}
}

// onConnect runs on paho's event goroutine after every (re)connect.
func (c *Client) onConnect(client paho.Client) {
	c.log.Info("connected to broker")

	for _, sub := range commandTopics {
		topic := c.topic(sub)
		handler := func(_ paho.Client, msg paho.Message) { c.handleMessage(sub, msg.Payload()) }
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			c.log.WithError(token.Error()).WithField("topic", topic).Error("subscribe failed")
		}
	}

	go func() {
		c.Publish("availability", "online", true)
		if c.cfg.HADiscoveryEnabled {
			c.publishDiscovery()
		}
		c.publishState()
		c.Publish("routine/state", c.state.RunningRoutine(), true)
	}()
}

func (c *Client) publishDiscovery() {
	for _, d := range discoveryConfigs(c.cfg.HADiscoveryPrefix, c.prefix, c.cfg.ClientID) {
		body, err := json.Marshal(d.Payload)
		if err != nil {
			c.log.WithError(err).Error("cannot encode discovery payload")
			continue
		}
		c.client.Publish(d.Topic, 0, true, body)
		c.log.WithField("topic", d.Topic).Debug("home assistant discovery sent")
	}
}

func (c *Client) handleMessage(subtopic string, payload []byte) {
	entry := c.log.WithFields(log.Fields{"topic": subtopic, "payload": string(payload)})
	cmd, err := commandForMessage(subtopic, string(payload))
	if err != nil {
		entry.WithError(err).Warn("ignoring message")
		return
	}

	// paho handlers must not block.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := core.Dispatch(ctx, c.commands, cmd); err != nil {
			entry.WithError(err).Warn("command failed")
		}
	}()
}

// commandForMessage translates a message on a command subtopic into an agent command.
func commandForMessage(subtopic, payload string) (core.Command, error) {
	payload = strings.TrimSpace(payload)
	switch subtopic {
	case "dimming/set":
		value, err := normalizeNumber(payload)
		if err != nil {
			return core.Command{}, err
		}
		return core.ParseCommand("dimming " + value)
	case "mode/set":
		return core.ParseCommand("mode " + payload)
	case "ereading/set":
		return core.ParseCommand("ereading " + strings.ToLower(payload))
	case "sync":
		return core.Command{Type: core.CmdSync}, nil
	case "routine/run":
		return core.ParseCommand("routine " + payload)
	case "routine/stop":
		return core.Command{Type: core.CmdStopRoutine}, nil
	}
	return core.Command{}, fmt.Errorf("%w: topic %q", core.ErrUnknownCommand, subtopic)
}

// normalizeNumber accepts integral floats such as "55.0" from Home Assistant
// number entities. A leading sign is kept so steps still parse as steps.
func normalizeNumber(s string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || f != math.Trunc(f) {
		return "", fmt.Errorf("%w: dimming %q", splendid.ErrInvalidParameter, s)
	}
	n := strconv.Itoa(int(f))
	if strings.HasPrefix(s, "+") {
		n = "+" + n
	}
	return n, nil
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// stateMessages returns the retained state payloads keyed by subtopic.
func stateMessages(snap core.Snapshot) map[string]string {
	full, err := json.Marshal(snap)
	if err != nil {
		full = []byte("{}")
	}
	return map[string]string{
		"state":          string(full),
		"dimming/state":  strconv.Itoa(snap.DimmingPercent),
		"mode/state":     snap.Mode,
		"ereading/state": onOff(snap.Display.IsMonochrome),
	}
}

type discoveryConfig struct {
	Topic   string
	Payload map[string]interface{}
}

func safeID(clientID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, clientID)
}

// discoveryConfigs builds the Home Assistant entities: a dimming number, a
// mode select and an e-reading switch.
func discoveryConfigs(haPrefix, prefix, clientID string) []discoveryConfig {
	id := safeID(clientID)
	device := map[string]interface{}{
		"identifiers":  []string{id},
		"name":         "Splendid Display",
		"manufacturer": "ASUS",
		"model":        "Splendid",
	}
	availability := []map[string]string{{
		"topic":                 prefix + "/availability",
		"payload_available":     "online",
		"payload_not_available": "offline",
	}}

	modes := make([]string, 0, len(splendid.Kinds()))
	for _, k := range splendid.Kinds() {
		modes = append(modes, k.String())
	}

	base := func(name, suffix, icon string) map[string]interface{} {
		return map[string]interface{}{
			"name":         name,
			"unique_id":    id + "_" + suffix,
			"object_id":    id + "_" + suffix,
			"icon":         icon,
			"device":       device,
			"availability": availability,
		}
	}

	dimming := base("Dimming", "dimming", "mdi:brightness-6")
	dimming["command_topic"] = prefix + "/dimming/set"
	dimming["state_topic"] = prefix + "/dimming/state"
	dimming["min"] = splendid.PercentMin
	dimming["max"] = splendid.PercentMax
	dimming["step"] = 1
	dimming["unit_of_measurement"] = "%"

	mode := base("Mode", "mode", "mdi:palette")
	mode["command_topic"] = prefix + "/mode/set"
	mode["state_topic"] = prefix + "/mode/state"
	mode["options"] = modes

	ereading := base("E-Reading", "ereading", "mdi:book-open-variant")
	ereading["command_topic"] = prefix + "/ereading/set"
	ereading["state_topic"] = prefix + "/ereading/state"
	ereading["payload_on"] = "ON"
	ereading["payload_off"] = "OFF"

	return []discoveryConfig{
		{Topic: fmt.Sprintf("%s/number/%s/dimming/config", haPrefix, id), Payload: dimming},
		{Topic: fmt.Sprintf("%s/select/%s/mode/config", haPrefix, id), Payload: mode},
		{Topic: fmt.Sprintf("%s/switch/%s/ereading/config", haPrefix, id), Payload: ereading},
	}
}
