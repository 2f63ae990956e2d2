package mqtt

import (
	"testing"

	"gridwarden/internal/config"

	"github.com/stretchr/testify/assert"
)

func testClient() *MQTTClient {
	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "loremtopic",
		},
	}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestTopicScheme(t *testing.T) {

	assert := assert.New(t)

	c := testClient()

	assert.Equal("loremtopic/session/state", c.SessionStateTopic())
	assert.Equal("loremtopic/component/3/state", c.ComponentStateTopic(3))
	assert.Equal("loremtopic/component/3/power/active", c.ComponentPowerTopic(3, "active"))
	assert.Equal("loremtopic/component/3/bounds/voltage", c.ComponentBoundsTopic(3, "voltage"))
	assert.Equal("loremtopic/component/3/alert", c.ComponentAlertTopic(3))
}

func TestWillConfiguredOnSessionTopic(t *testing.T) {

	assert := assert.New(t)

	cfg := &config.Config{
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "loremtopic",
		},
	}
	opts := OptsFromConfig(cfg)

	assert.True(opts.WillEnabled)
	assert.Equal("loremtopic/session/state", opts.WillTopic)
	assert.Equal(MQTT_PAYLOAD_OFFLINE, string(opts.WillPayload))
	assert.True(opts.WillRetained)
}
