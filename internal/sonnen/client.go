package sonnen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Device API paths, relative to the battery host.
const (
	pathBattery       = "/api/battery"
	pathBatterySystem = "/api/battery_system"
	pathInverter      = "/api/inverter"
	pathPowerMeter    = "/api/powermeter"
	pathStatus        = "/api/v2/status"
	pathSystemData    = "/api/system_data"
)

const defaultTimeout = 10 * time.Second

// Battery holds the connection settings of a single SonnenBatterie
type Battery struct {
	Host      string
	AuthToken string
	Timeout   time.Duration
}

// Client talks to the local SonnenBatterie API
type Client struct {
	battery Battery
	http    *http.Client
}

// NewClient creates a client for the given battery
func NewClient(battery Battery) *Client {
	timeout := battery.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		battery: battery,
		http:    &http.Client{Timeout: timeout},
	}
}

// Host returns the configured battery address
func (c *Client) Host() string {
	return c.battery.Host
}

// Battery retrieves the battery section
func (c *Client) Battery(ctx context.Context) (map[string]any, error) {
	return c.fetchObject(ctx, pathBattery)
}

// BatterySystem retrieves the battery system section
func (c *Client) BatterySystem(ctx context.Context) (map[string]any, error) {
	return c.fetchObject(ctx, pathBatterySystem)
}

// Inverter retrieves the inverter section
func (c *Client) Inverter(ctx context.Context) (map[string]any, error) {
	return c.fetchObject(ctx, pathInverter)
}

// Status retrieves the current status
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.fetchObject(ctx, pathStatus)
}

// SystemData retrieves the system data section which carries the serial number
func (c *Client) SystemData(ctx context.Context) (map[string]any, error) {
	return c.fetchObject(ctx, pathSystemData)
}

// PowerMeter retrieves the list of power meter records.
// Newer firmware returns an object keyed by index instead of an array.
func (c *Client) PowerMeter(ctx context.Context) ([]any, error) {
	var raw any
	if err := c.fetchJSON(ctx, pathPowerMeter, &raw); err != nil {
		return nil, err
	}

	switch v := raw.(type) {
	case []any:
		return v, nil
	case map[string]any:
		return indexedToList(v), nil
	default:
		return nil, fmt.Errorf("unexpected powermeter payload of type %T", raw)
	}
}

func (c *Client) fetchObject(ctx context.Context, path string) (map[string]any, error) {
	var data map[string]any
	if err := c.fetchJSON(ctx, path, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("empty response from %s", path)
	}
	return data, nil
}

// fetchJSON performs an HTTP GET request with authentication and decodes the JSON response
func (c *Client) fetchJSON(ctx context.Context, path string, target interface{}) error {
	url := fmt.Sprintf("http://%s%s", c.battery.Host, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("Auth-Token", c.battery.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode JSON from %s: %w", url, err)
	}

	return nil
}

// indexedToList orders {"0": a, "1": b, ...} by numeric key. Non-numeric keys sort last.
func indexedToList(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})

	list := make([]any, 0, len(keys))
	for _, k := range keys {
		list = append(list, m[k])
	}
	return list
}
