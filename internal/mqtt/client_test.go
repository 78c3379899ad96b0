package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splendid-controller/internal/config"
	"splendid-controller/internal/core"
	"splendid-controller/internal/splendid"
)

func TestCommandForMessage(t *testing.T) {
	tests := []struct {
		topic string
		body  string
		typ   core.CommandType
		args  map[string]interface{}
	}{
		{"dimming/set", "55", core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(55)}},
		{"dimming/set", "55.0", core.CmdSetDimmingPercent, map[string]interface{}{"value": float64(55)}},
		{"dimming/set", "+10", core.CmdStepDimming, map[string]interface{}{"delta": float64(10)}},
		{"dimming/set", "-10", core.CmdStepDimming, map[string]interface{}{"delta": float64(-10)}},
		{"mode/set", "vivid", core.CmdSetMode, map[string]interface{}{"mode": "vivid"}},
		{"mode/set", "eyecare 2", core.CmdSetMode, map[string]interface{}{"mode": "eyecare", "level": float64(2)}},
		{"ereading/set", "ON", core.CmdSetEReading, map[string]interface{}{"on": true}},
		{"ereading/set", "OFF", core.CmdSetEReading, map[string]interface{}{"on": false}},
		{"ereading/set", "TOGGLE", core.CmdToggleEReading, nil},
		{"sync", "", core.CmdSync, nil},
		{"routine/run", "Night.lua", core.CmdRunRoutine, map[string]interface{}{"name": "Night.lua"}},
		{"routine/stop", "", core.CmdStopRoutine, nil},
	}
	for _, tt := range tests {
		t.Run(tt.topic+" "+tt.body, func(t *testing.T) {
			cmd, err := commandForMessage(tt.topic, tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, cmd.Type)
			if tt.args != nil {
				assert.Equal(t, tt.args, cmd.Payload)
			}
		})
	}
}

func TestCommandForMessage_Invalid(t *testing.T) {
	_, err := commandForMessage("dimming/set", "55.5")
	assert.ErrorIs(t, err, splendid.ErrInvalidParameter)

	_, err = commandForMessage("dimming/set", "bright")
	assert.ErrorIs(t, err, splendid.ErrInvalidParameter)

	_, err = commandForMessage("mode/set", "eyecare 9")
	assert.ErrorIs(t, err, splendid.ErrInvalidParameter)

	_, err = commandForMessage("power/set", "ON")
	assert.ErrorIs(t, err, core.ErrUnknownCommand)
}

func TestStateMessages(t *testing.T) {
	state := core.NewState()
	cs := splendid.DefaultState()
	cs.Dimming = 100
	cs.IsMonochrome = true
	state.SetDisplay(cs)

	msgs := stateMessages(state.Snapshot())
	assert.Equal(t, "100", msgs["dimming/state"])
	assert.Equal(t, "ereading", msgs["mode/state"])
	assert.Equal(t, "ON", msgs["ereading/state"])

	var snap core.Snapshot
	require.NoError(t, json.Unmarshal([]byte(msgs["state"]), &snap))
	assert.Equal(t, cs, snap.Display)
}

func TestDiscoveryConfigs(t *testing.T) {
	configs := discoveryConfigs("homeassistant", "splendid", "splendid controller!")
	require.Len(t, configs, 3)

	assert.Equal(t, "homeassistant/number/splendid_controller/dimming/config", configs[0].Topic)
	assert.Equal(t, "splendid/dimming/set", configs[0].Payload["command_topic"])
	assert.Equal(t, 100, configs[0].Payload["max"])

	assert.Equal(t, "homeassistant/select/splendid_controller/mode/config", configs[1].Topic)
	assert.Equal(t, []string{"normal", "vivid", "manual", "eyecare", "ereading"}, configs[1].Payload["options"])

	assert.Equal(t, "homeassistant/switch/splendid_controller/ereading/config", configs[2].Topic)
	assert.Equal(t, "splendid/ereading/state", configs[2].Payload["state_topic"])

	for _, c := range configs {
		_, err := json.Marshal(c.Payload)
		assert.NoError(t, err)
	}
}

func TestNewClient_Disabled(t *testing.T) {
	c := NewClient(config.MQTTConfig{Enabled: false}, core.NewState(), core.NewEventBus(), make(core.CommandChannel))
	assert.Nil(t, c)
}

func TestNewClient_Topics(t *testing.T) {
	cfg := config.MQTTConfig{Enabled: true, Broker: "tcp://localhost:1883", ClientID: "test", TopicPrefix: "splendid/"}
	c := NewClient(cfg, core.NewState(), core.NewEventBus(), make(core.CommandChannel))
	require.NotNil(t, c)
	assert.Equal(t, "splendid/dimming/state", c.topic("dimming/state"))
}
