// Package hass publishes entities to Home Assistant through MQTT discovery.
package hass

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/entity"
)

const publishTimeout = 5 * time.Second

// Payloads of the availability topic
const (
	Online  = "online"
	Offline = "offline"
)

// Publisher is the part of mqtt.Client the presenter needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config controls topic layout
type Config struct {
	DiscoveryPrefix string
	BaseTopic       string
	Manufacturer    string
	Model           string
}

type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type discoveryConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	ObjectID            string     `json:"object_id"`
	StateTopic          string     `json:"state_topic"`
	JSONAttributesTopic string     `json:"json_attributes_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Device              deviceInfo `json:"device"`
}

// Presenter implements entity.Presenter on top of MQTT
type Presenter struct {
	client Publisher
	cfg    Config
	serial string
	node   string
}

// NewPresenter creates a presenter for the device identified by serial
func NewPresenter(client Publisher, cfg Config, serial string) *Presenter {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = entity.Domain
	}
	if cfg.Manufacturer == "" {
		cfg.Manufacturer = "sonnen GmbH"
	}
	return &Presenter{
		client: client,
		cfg:    cfg,
		serial: serial,
		node:   fmt.Sprintf("%s_%s", entity.Domain, serial),
	}
}

// AvailabilityTopic is where online/offline is published
func (p *Presenter) AvailabilityTopic() string {
	return AvailabilityTopic(p.cfg.BaseTopic)
}

// AvailabilityTopic returns the availability topic below baseTopic
func AvailabilityTopic(baseTopic string) string {
	if baseTopic == "" {
		baseTopic = entity.Domain
	}
	return baseTopic + "/status"
}

// ConfigTopic returns the discovery topic of e
func (p *Presenter) ConfigTopic(e *entity.Entity) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", p.cfg.DiscoveryPrefix, p.node, e.ObjectID())
}

// StateTopic returns the state topic of e
func (p *Presenter) StateTopic(e *entity.Entity) string {
	return fmt.Sprintf("%s/%s/state", p.cfg.BaseTopic, e.ObjectID())
}

// AttributesTopic returns the attribute topic of e
func (p *Presenter) AttributesTopic(e *entity.Entity) string {
	return fmt.Sprintf("%s/%s/attributes", p.cfg.BaseTopic, e.ObjectID())
}

// Register publishes the retained discovery config followed by the current state
func (p *Presenter) Register(e *entity.Entity) error {
	cfg := discoveryConfig{
		Name:                e.Name,
		UniqueID:            e.ObjectID(),
		ObjectID:            e.ObjectID(),
		StateTopic:          p.StateTopic(e),
		JSONAttributesTopic: p.AttributesTopic(e),
		AvailabilityTopic:   p.AvailabilityTopic(),
		UnitOfMeasurement:   e.Unit,
		DeviceClass:         e.Class,
		Device: deviceInfo{
			Identifiers:  []string{p.node},
			Name:         "sonnenBatterie " + p.serial,
			Manufacturer: p.cfg.Manufacturer,
			Model:        p.cfg.Model,
		},
	}
	if e.Unit != "" {
		cfg.StateClass = entity.StateClassMeasurement
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal discovery config: %w", err)
	}
	if err := p.publish(p.ConfigTopic(e), true, payload); err != nil {
		return err
	}
	if len(e.Attributes) > 0 {
		if err := p.UpdateAttributes(e); err != nil {
			return err
		}
	}
	return p.UpdateState(e)
}

// UpdateState publishes the retained state of e
func (p *Presenter) UpdateState(e *entity.Entity) error {
	return p.publish(p.StateTopic(e), true, FormatState(e.Value))
}

// UpdateAttributes publishes the attribute bag of e as JSON
func (p *Presenter) UpdateAttributes(e *entity.Entity) error {
	payload, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes of %s: %w", e.ID, err)
	}
	return p.publish(p.AttributesTopic(e), true, payload)
}

// SetAvailability publishes online or offline
func (p *Presenter) SetAvailability(online bool) error {
	state := Offline
	if online {
		state = Online
	}
	return p.publish(p.AvailabilityTopic(), true, state)
}

func (p *Presenter) publish(topic string, retained bool, payload interface{}) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// FormatState renders a value as an MQTT state payload
func FormatState(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprint(val)
	}
}
