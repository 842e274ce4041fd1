// Package monitor drives the fetch, derive and publish cycle against a sonnenBatterie.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/derive"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/entity"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/mapper"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/metrics"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/schema"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/sonnen"
)

const (
	// DefaultInterval is used when no poll interval is configured
	DefaultInterval = 10 * time.Second
	minInterval     = time.Second

	serialKey    = "DE_Ticket_Number"
	initialState = "NOTRUN"
)

// Display states of the aggregate entity
const (
	StatusCharging    = "charging"
	StatusDischarging = "discharging"
	StatusStandby     = "standby"
)

// State of the poll loop
type State int32

const (
	StateInit State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned when Run is called more than once
var ErrAlreadyStarted = errors.New("monitor already started")

// Fetcher produces snapshots
type Fetcher interface {
	Fetch(ctx context.Context) (*sonnen.Snapshot, error)
}

// Recorder receives poll statistics. *metrics.Collector implements it.
type Recorder interface {
	CycleDone(result string, took time.Duration)
	SetDisabled(n int)
	SetEntities(n int)
	PublishFailed()
}

type nopRecorder struct{}

func (nopRecorder) CycleDone(string, time.Duration) {}
func (nopRecorder) SetDisabled(int)                 {}
func (nopRecorder) SetEntities(int)                 {}
func (nopRecorder) PublishFailed()                  {}

// Options tune a Monitor
type Options struct {
	// Interval between the end of one cycle and the start of the next
	Interval time.Duration
	// Debug logs one full snapshot dump per process
	Debug    bool
	Logger   *zap.Logger
	Recorder Recorder
}

// Monitor owns the snapshot, the entity registry and the disabled sensor set.
// All of them are only touched from the goroutine running Run.
type Monitor struct {
	device   *Device
	fetcher  Fetcher
	mapper   *mapper.Mapper
	registry *entity.Registry

	aggregateID string
	ns          entity.Namespace
	disabled    mapper.Disabled
	latest      *sonnen.Snapshot

	interval time.Duration
	debug    bool
	dumped   bool
	logger   *zap.Logger
	recorder Recorder

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	after    func(time.Duration) <-chan time.Time
}

// New creates a monitor for the device found by Handshake
func New(dev *Device, f Fetcher, s *schema.Schema, reg *entity.Registry, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var recorder Recorder = nopRecorder{}
	if opts.Recorder != nil {
		recorder = opts.Recorder
	}

	return &Monitor{
		device:      dev,
		fetcher:     f,
		mapper:      mapper.New(s, logger),
		registry:    reg,
		aggregateID: entity.AggregateID(dev.Serial),
		disabled:    mapper.Disabled{},
		interval:    NormalizeInterval(opts.Interval),
		debug:       opts.Debug,
		logger:      logger,
		recorder:    recorder,
		stop:        make(chan struct{}),
		after:       time.After,
	}
}

// NormalizeInterval applies the default to the zero value and the one second floor to everything else
func NormalizeInterval(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultInterval
	}
	return max(d, minInterval)
}

// SecondsInterval converts a configured interval in seconds. An explicit value
// never selects the default: 0, fractions below one and negatives all become one second.
func SecondsInterval(seconds float64) time.Duration {
	return max(time.Duration(seconds*float64(time.Second)), minInterval)
}

// Interval returns the effective poll interval
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// AggregateID returns the id of the top-level status entity
func (m *Monitor) AggregateID() string {
	return m.aggregateID
}

// State returns the current lifecycle state
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Latest returns the last snapshot that was fetched successfully
func (m *Monitor) Latest() *sonnen.Snapshot {
	return m.latest
}

// Disabled returns the number of permanently disabled sensors
func (m *Monitor) Disabled() int {
	return len(m.disabled)
}

// Setup creates the aggregate entity. It must run before Run.
// A failed registration is logged and retried on the first state change.
func (m *Monitor) Setup() {
	err := m.registry.Add(&entity.Entity{
		ID:         m.aggregateID,
		Name:       m.aggregateID,
		Value:      initialState,
		Attributes: m.device.SystemData,
	})
	if err != nil {
		m.publishFailed(err)
	}
	m.logger.Info("created aggregate sensor", zap.String("entity_id", m.aggregateID))
}

// Stop asks the loop to end after the current cycle
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Run polls until ctx is cancelled or Stop is called.
// A running cycle is always completed before the loop exits.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer m.state.Store(int32(StateStopped))

	m.logger.Info("start watcher", zap.Duration("interval", m.interval))

	// in-flight device calls are not cancelled on shutdown
	cycleCtx := context.WithoutCancel(ctx)

	for {
		if m.stopping(ctx) {
			return nil
		}
		m.safeCycle(cycleCtx)
		if m.stopping(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-m.after(m.interval):
		}
	}
}

func (m *Monitor) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Monitor) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("poll cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	_ = m.Cycle(ctx)
}

// Cycle runs a single fetch, derive and publish iteration.
// A fetch failure leaves every piece of state untouched.
func (m *Monitor) Cycle(ctx context.Context) error {
	start := time.Now()

	snap, err := m.fetcher.Fetch(ctx)
	if err != nil {
		m.logger.Error("fetching snapshot failed", zap.Error(err))
		m.recorder.CycleDone(metrics.ResultFetchError, time.Since(start))
		return err
	}
	m.latest = snap

	if m.debug {
		m.dumpSnapshot(snap)
	}

	if !m.ns.Initialized() {
		serial, ok := Serial(snap.SystemData)
		if !ok {
			m.logger.Warn("system data carries no serial number", zap.String("default", entity.UnknownSerial))
		}
		m.ns.Init(serial)
		m.logger.Info("sensor namespace fixed", zap.String("serial", m.ns.Serial()))
	}

	if err := m.registry.SetState(m.aggregateID, DisplayStatus(snap.Status)); err != nil {
		m.publishFailed(err)
	}

	readings, err := m.mapper.Resolve(snap, &m.ns, m.disabled)
	if err != nil {
		return err
	}
	m.publish(readings)

	result := metrics.ResultOK
	derived, calcErr := derive.Compute(snap, &m.ns)
	if calcErr != nil {
		m.logger.Error("calculating derived values failed", zap.Error(calcErr))
		result = metrics.ResultCalcError
	} else {
		m.publish(derived)
	}

	if err := m.registry.SetAttributes(m.aggregateID, snap.SystemData); err != nil {
		m.publishFailed(err)
	}

	m.recorder.SetDisabled(len(m.disabled))
	m.recorder.SetEntities(m.registry.Len())
	m.recorder.CycleDone(result, time.Since(start))
	return calcErr
}

func (m *Monitor) publish(readings []entity.Reading) {
	for _, r := range readings {
		if err := m.registry.Upsert(r); err != nil {
			m.publishFailed(err)
		}
	}
}

func (m *Monitor) publishFailed(err error) {
	m.logger.Error("failing sensor", zap.Error(err))
	m.recorder.PublishFailed()
}

// dumpSnapshot logs every section once per process so missing fields can be located
func (m *Monitor) dumpSnapshot(snap *sonnen.Snapshot) {
	if m.dumped {
		return
	}
	m.dumped = true

	m.logger.Warn("powermeter data", zap.Any("data", snap.PowerMeter))
	m.logger.Warn("battery system data", zap.Any("data", snap.BatterySystem))
	m.logger.Warn("inverter data", zap.Any("data", snap.Inverter))
	m.logger.Warn("system data", zap.Any("data", snap.SystemData))
	m.logger.Warn("status data", zap.Any("data", snap.Status))
	m.logger.Warn("battery data", zap.Any("data", snap.Battery))
}

// DisplayStatus derives the aggregate state from the charging flags
func DisplayStatus(status map[string]any) string {
	switch {
	case sonnen.Bool(status["BatteryCharging"]):
		return StatusCharging
	case sonnen.Bool(status["BatteryDischarging"]):
		return StatusDischarging
	default:
		return StatusStandby
	}
}
