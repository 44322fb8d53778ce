package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/R167/solaredge_exporter/internal/client"
)

// DefaultStaleness is how old a reading may be before its series are removed
const DefaultStaleness = 30 * time.Minute

var errStopped = errors.New("poller stopped")

// ArrayFunc maps an optimizer serial number to its array name
type ArrayFunc func(serialNumber string) string

// Poller periodically fetches the site layout and optimizer readings and
// publishes them into an OptimizerCollector
type Poller struct {
	client    client.Client
	collector *OptimizerCollector
	logger    *slog.Logger
	arrayFor  ArrayFunc
	interval  time.Duration
	staleness time.Duration

	// overridable in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// PollerConfig configures a Poller
type PollerConfig struct {
	Interval  time.Duration
	Staleness time.Duration
	ArrayFor  ArrayFunc
}

// NewPoller creates a new poller
func NewPoller(c client.Client, collector *OptimizerCollector, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	if cfg.ArrayFor == nil {
		cfg.ArrayFor = func(string) string { return "unknown" }
	}
	return &Poller{
		client:    c,
		collector: collector,
		logger:    logger,
		arrayFor:  cfg.ArrayFor,
		interval:  cfg.Interval,
		staleness: cfg.Staleness,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start runs poll cycles until ctx is cancelled or Stop is called
func (p *Poller) Start(ctx context.Context) {
	defer close(p.stoppedCh)

	p.logger.Info("Optimizer poller started", "interval", p.interval, "staleness", p.staleness)

	for {
		delay := p.interval
		if err := p.poll(ctx); err != nil {
			// Stop or cancellation during a backoff wait
			if errors.Is(err, errStopped) {
				p.logger.Info("Optimizer poller stopping")
				return
			}
			// site layout failed, retry sooner
			delay = p.interval / 2
		}
		if !p.wait(ctx, delay) {
			p.logger.Info("Optimizer poller stopping")
			return
		}
	}
}

// Stop stops the poller (safe to call multiple times)
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.stoppedCh
}

// wait sleeps for d and returns false if the poller was stopped meanwhile
func (p *Poller) wait(ctx context.Context, d time.Duration) bool {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// poll runs a single cycle. It returns an error only when the cycle was
// abandoned before any optimizer was looked at, or when the poller stopped.
func (p *Poller) poll(ctx context.Context) error {
	site, err := p.client.GetSite(ctx)
	if err != nil {
		p.logger.Warn("Failed to get site layout", "error", err, "transient", client.IsTransient(err))
		return err
	}

	energy, err := p.client.GetLifetimeEnergy(ctx)
	if err != nil {
		p.logger.Warn("Failed to get lifetime energy", "error", err, "transient", client.IsTransient(err))
		// a nil snapshot leaves every lifetime_energy series at its last value
		energy = nil
	}

	var (
		processed  int
		maxUpdated time.Time
	)
	for _, opt := range site.Optimizers() {
		reading, err := p.client.GetReading(ctx, opt.ID)
		if err == nil && reading == nil {
			err = errors.New("empty reading")
		}
		if err != nil {
			p.logger.Warn("Failed to get optimizer reading",
				"error", err,
				"transient", client.IsTransient(err),
				"id", opt.ID,
				"name", opt.Name,
				"serial", opt.SerialNumber)
			// give the portal a breather, then move on to the next optimizer
			if !p.wait(ctx, p.interval/2) {
				return errStopped
			}
			continue
		}

		p.publish(opt, reading, energy)
		processed++
		if reading.LastMeasurement.After(maxUpdated) {
			maxUpdated = reading.LastMeasurement
		}
	}

	// updated only moves when at least one reading came through
	p.collector.SetUp(processed > 0)
	if processed > 0 {
		p.collector.SetLastUpdated(maxUpdated)
	}

	p.logger.Debug("Poll cycle completed",
		"optimizers", processed,
		"energy_available", energy != nil,
		"last_measurement", maxUpdated)

	return nil
}

func (p *Poller) publish(opt client.Optimizer, reading *client.Reading, energy client.LifetimeEnergy) {
	l := OptimizerLabels{
		ID:           opt.ID,
		SerialNumber: opt.SerialNumber,
		Position:     opt.DisplayName,
		Model:        reading.Model,
		Manufacturer: reading.Manufacturer,
		Array:        p.arrayFor(opt.SerialNumber),
	}

	// updated and lifetime energy are exported for stale readings too
	p.collector.SetUpdated(l, reading.LastMeasurement)
	if kwh, ok := energy.KWh(opt.ID); ok {
		p.collector.SetLifetimeEnergy(l, kwh)
	}

	age := p.now().Sub(reading.LastMeasurement)
	if age >= p.staleness {
		// measurement is too old, remove the actuals
		p.collector.RemoveReadings(l)
		p.logger.Debug("Optimizer reading is stale", "id", opt.ID, "age", age)
		return
	}

	p.collector.SetPower(l, reading.Power)
	p.collector.SetCurrent(l, reading.Current)
	p.collector.SetVoltage(l, VoltageTypeString, reading.Voltage)
	p.collector.SetVoltage(l, VoltageTypeOptimizerString, reading.OptimizerVoltage)
}
