package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Driver   DriverConfig  `mapstructure:"driver"`
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	Control  ControlConfig `mapstructure:"control"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

// DriverConfig selects and configures the fleet driver. Kind "modbus"
// talks to a gateway over Modbus TCP; kind "sim" runs the in-memory
// simulator.
type DriverConfig struct {
	Kind          string `mapstructure:"kind"`
	Host          string
	Port          uint
	UnitId        uint `mapstructure:"unit_id"`
	TimeoutMillis uint `mapstructure:"timeout_millis"`
}

type ControlConfig struct {
	// power setpoint watchdog lifetime when the request leaves it unset
	DefaultPowerLifetimeSeconds uint `mapstructure:"default_power_lifetime_seconds"`
	// how often expired bound intervals are swept out
	BoundsSweepIntervalSeconds uint `mapstructure:"bounds_sweep_interval_seconds"`
}

type MQTTConfig struct {
	Enable    bool
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func CheckDriverKind(kind string) (string, error) {
	k := strings.ToLower(kind)
	switch k {
	case "modbus", "sim":
		return k, nil
	}
	return "", errors.New("driver kind must be one of: modbus, sim")
}
