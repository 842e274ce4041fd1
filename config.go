package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/monitor"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/sonnen"
)

const (
	defaultPort     = "9090"
	defaultLogLevel = "info"
	configName      = "sonnenbatterie"
	envPrefix       = "SONNENBATTERIE"
)

type mqttConfig struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
	BaseTopic       string
}

type logConfig struct {
	Level  string
	Format string
}

type config struct {
	Battery    sonnen.Battery
	// Interval is zero when no interval was configured
	Interval   time.Duration
	Debug      bool
	SchemaPath string
	MQTT       mqttConfig
	Log        logConfig
	Port       string
}

// newViper returns a config reader with defaults and environment binding
func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("battery.host", "")
	v.SetDefault("battery.token", "")
	v.SetDefault("battery.timeout", 10*time.Second)
	// interval has no default: unset selects the monitor default, any explicit value is floored
	v.SetDefault("debug", false)
	v.SetDefault("schema", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.base_topic", "sonnenbatterie")
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", "json")
	v.SetDefault("http.port", defaultPort)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// EXPORTER_PORT predates the prefixed variables
	_ = v.BindEnv("http.port", envPrefix+"_HTTP_PORT", "EXPORTER_PORT")

	return v
}

// readConfigFile loads path, or sonnenbatterie.yaml from the usual places.
// A missing default file is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config")
	v.AddConfigPath("/etc")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// loadConfig reads and validates the configuration
func loadConfig(v *viper.Viper, path string) (*config, error) {
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	cfg := &config{
		Battery: sonnen.Battery{
			Host:      strings.TrimSpace(v.GetString("battery.host")),
			AuthToken: strings.TrimSpace(v.GetString("battery.token")),
			Timeout:   v.GetDuration("battery.timeout"),
		},
		Interval:   configuredInterval(v),
		Debug:      v.GetBool("debug"),
		SchemaPath: v.GetString("schema"),
		MQTT: mqttConfig{
			Broker:          v.GetString("mqtt.broker"),
			Username:        v.GetString("mqtt.username"),
			Password:        v.GetString("mqtt.password"),
			ClientID:        v.GetString("mqtt.client_id"),
			DiscoveryPrefix: v.GetString("mqtt.discovery_prefix"),
			BaseTopic:       v.GetString("mqtt.base_topic"),
		},
		Log: logConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Port: v.GetString("http.port"),
	}

	if cfg.Battery.Host == "" {
		return nil, fmt.Errorf("battery.host must be set (%s_BATTERY_HOST)", envPrefix)
	}
	if cfg.Battery.AuthToken == "" {
		return nil, fmt.Errorf("battery.token must be set (%s_BATTERY_TOKEN)", envPrefix)
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "sonnenbatterie-" + uuid.NewString()
	}

	return cfg, nil
}

// configuredInterval returns 0 when interval is unset, else the floored interval
func configuredInterval(v *viper.Viper) time.Duration {
	if !v.IsSet("interval") {
		return 0
	}
	return monitor.SecondsInterval(v.GetFloat64("interval"))
}
