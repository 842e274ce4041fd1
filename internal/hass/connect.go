package hass

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const connectTimeout = 30 * time.Second

// ErrConnectPending means the broker was not reachable yet; the client keeps retrying
var ErrConnectPending = errors.New("mqtt connection pending")

// BrokerConfig holds the MQTT connection settings
type BrokerConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic receives Offline when the connection drops
	WillTopic string
}

// NewClient prepares an MQTT client with auto-reconnect and an offline last will.
// onConnect runs after every (re)connect.
func NewClient(cfg BrokerConfig, logger *zap.Logger, onConnect func()) mqtt.Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			logger.Info("mqtt connection up", zap.String("broker", cfg.Broker))
			if onConnect != nil {
				go onConnect()
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, Offline, 1, true)
	}

	return mqtt.NewClient(opts)
}

// Connect waits for the first connection. On timeout the returned error wraps
// ErrConnectPending and the client keeps retrying in the background.
func Connect(client mqtt.Client, broker string) error {
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to %s: %w", broker, ErrConnectPending)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", broker, err)
	}
	return nil
}
