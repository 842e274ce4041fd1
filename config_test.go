package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/monitor"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, envPrefix+"_") || key == "EXPORTER_PORT" {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sonnenbatterie.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig_Env(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantHost     string
		wantInterval time.Duration
		wantPort     string
		wantErr      string
	}{
		{
			name: "minimal",
			env: map[string]string{
				"SONNENBATTERIE_BATTERY_HOST":  "192.168.1.100",
				"SONNENBATTERIE_BATTERY_TOKEN": "token123",
			},
			wantHost: "192.168.1.100",
			wantPort: "9090",
		},
		{
			name: "interval and legacy port",
			env: map[string]string{
				"SONNENBATTERIE_BATTERY_HOST":  " 192.168.1.100 ",
				"SONNENBATTERIE_BATTERY_TOKEN": "token123",
				"SONNENBATTERIE_INTERVAL":      "30",
				"EXPORTER_PORT":                "8080",
			},
			wantHost:     "192.168.1.100",
			wantInterval: 30 * time.Second,
			wantPort:     "8080",
		},
		{
			name: "prefixed port wins",
			env: map[string]string{
				"SONNENBATTERIE_BATTERY_HOST":  "192.168.1.100",
				"SONNENBATTERIE_BATTERY_TOKEN": "token123",
				"SONNENBATTERIE_HTTP_PORT":     "9100",
				"EXPORTER_PORT":                "8080",
			},
			wantHost: "192.168.1.100",
			wantPort: "9100",
		},
		{
			name: "missing host",
			env: map[string]string{
				"SONNENBATTERIE_BATTERY_TOKEN": "token123",
			},
			wantErr: "battery.host",
		},
		{
			name: "missing token",
			env: map[string]string{
				"SONNENBATTERIE_BATTERY_HOST": "192.168.1.100",
			},
			wantErr: "battery.token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			// an explicit empty file keeps configs on the test machine out of the way
			path := writeConfig(t, "{}\n")

			cfg, err := loadConfig(newViper(), path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("loadConfig() error = nil, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("loadConfig() error = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig() unexpected error: %v", err)
			}

			if cfg.Battery.Host != tt.wantHost {
				t.Errorf("Battery.Host = %q, want %q", cfg.Battery.Host, tt.wantHost)
			}
			if cfg.Interval != tt.wantInterval {
				t.Errorf("Interval = %v, want %v", cfg.Interval, tt.wantInterval)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %q, want %q", cfg.Port, tt.wantPort)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SONNENBATTERIE_BATTERY_HOST", "192.168.1.100")
	t.Setenv("SONNENBATTERIE_BATTERY_TOKEN", "token123")

	cfg, err := loadConfig(newViper(), writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("loadConfig() unexpected error: %v", err)
	}

	if cfg.Battery.Timeout != 10*time.Second {
		t.Errorf("Battery.Timeout = %v, want 10s", cfg.Battery.Timeout)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("MQTT.Broker = %q, want empty", cfg.MQTT.Broker)
	}
	if cfg.MQTT.ClientID != "" {
		t.Errorf("MQTT.ClientID = %q, want empty without broker", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("MQTT.DiscoveryPrefix = %q, want homeassistant", cfg.MQTT.DiscoveryPrefix)
	}
	if cfg.MQTT.BaseTopic != "sonnenbatterie" {
		t.Errorf("MQTT.BaseTopic = %q, want sonnenbatterie", cfg.MQTT.BaseTopic)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.Debug {
		t.Error("Debug = true, want false")
	}
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
battery:
  host: 10.0.0.5
  token: secret
  timeout: 3s
interval: 5
debug: true
mqtt:
  broker: tcp://broker:1883
  base_topic: home/battery
http:
  port: "9200"
`)

	cfg, err := loadConfig(newViper(), path)
	if err != nil {
		t.Fatalf("loadConfig() unexpected error: %v", err)
	}

	if cfg.Battery.Host != "10.0.0.5" || cfg.Battery.AuthToken != "secret" {
		t.Errorf("Battery = %+v", cfg.Battery)
	}
	if cfg.Battery.Timeout != 3*time.Second {
		t.Errorf("Battery.Timeout = %v, want 3s", cfg.Battery.Timeout)
	}
	if cfg.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", cfg.Interval)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	if cfg.MQTT.BaseTopic != "home/battery" {
		t.Errorf("MQTT.BaseTopic = %q, want home/battery", cfg.MQTT.BaseTopic)
	}
	if !strings.HasPrefix(cfg.MQTT.ClientID, "sonnenbatterie-") {
		t.Errorf("MQTT.ClientID = %q, want generated sonnenbatterie-<uuid>", cfg.MQTT.ClientID)
	}
	if cfg.Port != "9200" {
		t.Errorf("Port = %q, want 9200", cfg.Port)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SONNENBATTERIE_BATTERY_TOKEN", "from-env")
	path := writeConfig(t, "battery:\n  host: 10.0.0.5\n  token: from-file\n")

	cfg, err := loadConfig(newViper(), path)
	if err != nil {
		t.Fatalf("loadConfig() unexpected error: %v", err)
	}
	if cfg.Battery.AuthToken != "from-env" {
		t.Errorf("Battery.AuthToken = %q, want from-env", cfg.Battery.AuthToken)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := loadConfig(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("loadConfig() error = nil for missing config file")
	}
}

func TestLoadConfig_Interval(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		file      string
		want      time.Duration
		effective time.Duration
	}{
		{name: "unset", file: "{}\n", want: 0, effective: 10 * time.Second},
		{name: "zero", env: "0", file: "{}\n", want: time.Second, effective: time.Second},
		{name: "below one second", env: "0.5", file: "{}\n", want: time.Second, effective: time.Second},
		{name: "negative", env: "-2", file: "{}\n", want: time.Second, effective: time.Second},
		{name: "fractional", env: "2.5", file: "{}\n", want: 2500 * time.Millisecond, effective: 2500 * time.Millisecond},
		{name: "zero in file", file: "interval: 0\n", want: time.Second, effective: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("SONNENBATTERIE_BATTERY_HOST", "192.168.1.100")
			t.Setenv("SONNENBATTERIE_BATTERY_TOKEN", "token123")
			if tt.env != "" {
				t.Setenv("SONNENBATTERIE_INTERVAL", tt.env)
			}

			cfg, err := loadConfig(newViper(), writeConfig(t, tt.file))
			if err != nil {
				t.Fatalf("loadConfig() unexpected error: %v", err)
			}
			if cfg.Interval != tt.want {
				t.Errorf("Interval = %v, want %v", cfg.Interval, tt.want)
			}
			if got := monitor.NormalizeInterval(cfg.Interval); got != tt.effective {
				t.Errorf("effective interval = %v, want %v", got, tt.effective)
			}
		})
	}
}

func TestRootCommand_IntervalFlag(t *testing.T) {
	clearEnv(t)
	v := newViper()
	cmd := newRootCmd()
	if err := v.BindPFlag("interval", cmd.PersistentFlags().Lookup("interval")); err != nil {
		t.Fatalf("BindPFlag() error = %v", err)
	}

	if got := configuredInterval(v); got != 0 {
		t.Errorf("interval without flag = %v, want 0", got)
	}
	if err := cmd.PersistentFlags().Set("interval", "0.5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := configuredInterval(v); got != time.Second {
		t.Errorf("interval with --interval 0.5 = %v, want 1s", got)
	}
}
