package util

import (
	"gridwarden/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Driver: config.DriverConfig{
			Kind: "sim",
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "gridwarden",
		},
		Control: config.ControlConfig{
			DefaultPowerLifetimeSeconds: 60,
			BoundsSweepIntervalSeconds:  5,
		},
		Port: 8080,
	}
}
