package sonnen

import (
	"context"
	"fmt"
)

// API is the set of section accessors a Fetcher needs.
// *Client implements it.
type API interface {
	Battery(ctx context.Context) (map[string]any, error)
	BatterySystem(ctx context.Context) (map[string]any, error)
	Inverter(ctx context.Context) (map[string]any, error)
	PowerMeter(ctx context.Context) ([]any, error)
	Status(ctx context.Context) (map[string]any, error)
	SystemData(ctx context.Context) (map[string]any, error)
}

// FetchError reports that a snapshot could not be assembled.
// It is transient: the caller keeps its previous snapshot and retries.
type FetchError struct {
	Section string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Section, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher assembles snapshots from the device API
type Fetcher struct {
	api API
}

// NewFetcher creates a Fetcher using api
func NewFetcher(api API) *Fetcher {
	return &Fetcher{api: api}
}

// Fetch calls every section accessor. Any failure discards the whole snapshot.
func (f *Fetcher) Fetch(ctx context.Context) (snap *Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = &FetchError{Section: "client", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	var s Snapshot

	if s.Battery, err = f.api.Battery(ctx); err != nil {
		return nil, &FetchError{Section: SectionBattery, Err: err}
	}
	if s.BatterySystem, err = f.api.BatterySystem(ctx); err != nil {
		return nil, &FetchError{Section: SectionBatterySystem, Err: err}
	}
	if s.Inverter, err = f.api.Inverter(ctx); err != nil {
		return nil, &FetchError{Section: SectionInverter, Err: err}
	}
	if s.PowerMeter, err = f.api.PowerMeter(ctx); err != nil {
		return nil, &FetchError{Section: SectionPowerMeter, Err: err}
	}
	if s.Status, err = f.api.Status(ctx); err != nil {
		return nil, &FetchError{Section: SectionStatus, Err: err}
	}
	if s.SystemData, err = f.api.SystemData(ctx); err != nil {
		return nil, &FetchError{Section: SectionSystemData, Err: err}
	}

	return &s, nil
}
