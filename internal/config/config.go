package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Config is the full configuration for cmd/pzem-collector: one or more
// serial buses, the meters on each, and where live readings get published.
type Config struct {
	LogLevel zapcore.Level

	Buses []BusConfig `mapstructure:"buses"`

	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Server ServerConfig `mapstructure:"server"`
}

// BusConfig describes one physical RS-485 line and the meters on it.
type BusConfig struct {
	ID       string        `mapstructure:"id"`
	Device   string        `mapstructure:"device"`
	Meters   []MeterConfig `mapstructure:"meters"`
	PollRate uint32        `mapstructure:"poll_rate_millis"`
}

// MeterConfig describes one meter attached to a BusConfig.
type MeterConfig struct {
	ID      string `mapstructure:"id"`
	Family  string `mapstructure:"family"` // "ac" or "dc"
	Address uint8  `mapstructure:"address"`
}

// MQTTConfig configures the broker every pool update is republished to.
type MQTTConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	BaseTopic string `mapstructure:"base_topic"`
}

// ServerConfig configures the HTTP+WebSocket status API.
type ServerConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   uint `mapstructure:"port"`
}

// CheckMQTTTopic validates and lower-cases a topic fragment, the same rule
// the teacher project applies to its own MQTT base/discovery topics.
func CheckMQTTTopic(baseTopic string) (string, error) {
	lower := strings.ToLower(baseTopic)
	topicRe := regexp.MustCompile("^[a-z0-9_]+$")
	if !topicRe.MatchString(lower) {
		return "", errors.New("invalid topic: can only contain letters, numbers and underscores")
	}
	return lower, nil
}
