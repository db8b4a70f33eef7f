//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbee-quirks/internal/config"
	"zigbee-quirks/internal/host"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *host.Host, _ *config.Config, logger *slog.Logger) *mqttStopper {
	logger.Info("built without mqtt support")
	return &mqttStopper{}
}
