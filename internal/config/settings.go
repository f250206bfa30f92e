package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override ("DTVPLUS_MQTT_BROKER")
const EnvPrefix = "DTVPLUS"

// Settings holds the bridge process settings. Device entries live in the
// registry, not here.
type Settings struct {
	Listen         string        `mapstructure:"listen"`
	LogLevel       string        `mapstructure:"log_level"`
	RegistryPath   string        `mapstructure:"registry"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	ConfigInterval time.Duration `mapstructure:"config_interval"`
	ExtraPollDelay time.Duration `mapstructure:"extra_poll_delay"`
	MQTT           MQTTSettings  `mapstructure:"mqtt"`
	MDNS           MDNSSettings  `mapstructure:"mdns"`
}

// MQTTSettings configures the MQTT bridge; an empty Broker disables it.
type MQTTSettings struct {
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// MDNSSettings configures the zeroconf advertisement of the bridge API
type MDNSSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

// flagKeys maps command-line flag names to settings keys
var flagKeys = map[string]string{
	"listen":           "listen",
	"log-level":        "log_level",
	"registry":         "registry",
	"status-interval":  "status_interval",
	"config-interval":  "config_interval",
	"mqtt-broker":      "mqtt.broker",
	"mqtt-prefix":      "mqtt.topic_prefix",
	"mdns":             "mdns.enabled",
	"extra-poll-delay": "extra_poll_delay",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8086")
	v.SetDefault("log_level", "info")
	v.SetDefault("registry", "")
	v.SetDefault("status_interval", 30*time.Second)
	v.SetDefault("config_interval", 300*time.Second)
	v.SetDefault("extra_poll_delay", 2*time.Second)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic_prefix", "dtvplus")
	v.SetDefault("mqtt.client_id", "dtvplus-bridge")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mdns.enabled", true)
	v.SetDefault("mdns.instance", "DTV+ Bridge")
}

// LoadSettings reads bridge settings from an optional YAML file, DTVPLUS_*
// environment variables and any changed flags, in increasing precedence.
// An empty path skips the file.
func LoadSettings(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate rejects settings the bridge cannot run with
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if s.StatusInterval <= 0 {
		return fmt.Errorf("status_interval must be positive, got %s", s.StatusInterval)
	}
	if s.ConfigInterval <= 0 {
		return fmt.Errorf("config_interval must be positive, got %s", s.ConfigInterval)
	}
	if s.ExtraPollDelay <= 0 {
		return fmt.Errorf("extra_poll_delay must be positive, got %s", s.ExtraPollDelay)
	}
	if s.MQTT.Broker != "" && strings.TrimSpace(s.MQTT.TopicPrefix) == "" {
		return fmt.Errorf("mqtt.topic_prefix is required when mqtt.broker is set")
	}
	return nil
}

// OpenRegistry loads the registry named by the settings, or the default one
func (s *Settings) OpenRegistry() (*Registry, error) {
	if s.RegistryPath != "" {
		return LoadRegistryFile(s.RegistryPath)
	}
	return LoadRegistry()
}
