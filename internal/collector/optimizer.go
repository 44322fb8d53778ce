package collector

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Voltage series types
const (
	VoltageTypeString          = "Voltage"
	VoltageTypeOptimizerString = "Optimizer Voltage"
)

var optimizerLabelNames = []string{"id", "serialnumber", "position", "model", "manufacturer", "array"}

// OptimizerLabels is the label tuple that identifies one optimizer's series
type OptimizerLabels struct {
	ID           string
	SerialNumber string
	Position     string
	Model        string
	Manufacturer string
	Array        string
}

func (l OptimizerLabels) values() []string {
	return []string{l.ID, l.SerialNumber, l.Position, l.Model, l.Manufacturer, l.Array}
}

type voltageKey struct {
	OptimizerLabels
	Type string
}

// OptimizerCollector holds the current optimizer series and exposes them to
// Prometheus. Series persist until removed.
type OptimizerCollector struct {
	mu          sync.RWMutex
	power       map[OptimizerLabels]float64
	current     map[OptimizerLabels]float64
	voltage     map[voltageKey]float64
	energy      map[OptimizerLabels]float64
	updatedAt   map[OptimizerLabels]float64
	lastUpdated float64
	up          float64

	powerDesc       *prometheus.Desc
	currentDesc     *prometheus.Desc
	voltageDesc     *prometheus.Desc
	energyDesc      *prometheus.Desc
	updatedAtDesc   *prometheus.Desc
	lastUpdatedDesc *prometheus.Desc
	upDesc          *prometheus.Desc
}

// NewOptimizerCollector creates an empty collector
func NewOptimizerCollector() *OptimizerCollector {
	return &OptimizerCollector{
		power:     make(map[OptimizerLabels]float64),
		current:   make(map[OptimizerLabels]float64),
		voltage:   make(map[voltageKey]float64),
		energy:    make(map[OptimizerLabels]float64),
		updatedAt: make(map[OptimizerLabels]float64),

		powerDesc: prometheus.NewDesc(
			"solaredge_optimizer_power",
			"Power in Watt",
			optimizerLabelNames, nil,
		),
		currentDesc: prometheus.NewDesc(
			"solaredge_optimizer_current",
			"Current in Ampere",
			optimizerLabelNames, nil,
		),
		voltageDesc: prometheus.NewDesc(
			"solaredge_optimizer_voltage",
			"Voltage in Volt",
			append(append([]string{}, optimizerLabelNames...), "type"), nil,
		),
		energyDesc: prometheus.NewDesc(
			"solaredge_optimizer_lifetime_energy",
			"Energy in kWh",
			optimizerLabelNames, nil,
		),
		updatedAtDesc: prometheus.NewDesc(
			"solaredge_optimizer_updated",
			"Time in epoch",
			optimizerLabelNames, nil,
		),
		lastUpdatedDesc: prometheus.NewDesc(
			"updated",
			"SolarEdge Optimizers client last updated",
			nil, nil,
		),
		upDesc: prometheus.NewDesc(
			"up",
			"SolarEdge Optimizers client status",
			nil, nil,
		),
	}
}

// SetPower sets the power series for l
func (c *OptimizerCollector) SetPower(l OptimizerLabels, watts float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.power[l] = watts
}

// SetCurrent sets the current series for l
func (c *OptimizerCollector) SetCurrent(l OptimizerLabels, ampere float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current[l] = ampere
}

// SetVoltage sets the voltage series of the given type for l
func (c *OptimizerCollector) SetVoltage(l OptimizerLabels, voltageType string, volt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voltage[voltageKey{l, voltageType}] = volt
}

// SetLifetimeEnergy sets the lifetime energy counter for l to an absolute value
func (c *OptimizerCollector) SetLifetimeEnergy(l OptimizerLabels, kwh float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.energy[l] = kwh
}

// SetUpdated records the measurement time of l
func (c *OptimizerCollector) SetUpdated(l OptimizerLabels, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatedAt[l] = epoch(t)
}

// RemoveReadings drops the power, current and both voltage series of l.
// Missing series are ignored.
func (c *OptimizerCollector) RemoveReadings(l OptimizerLabels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.power, l)
	delete(c.current, l)
	delete(c.voltage, voltageKey{l, VoltageTypeString})
	delete(c.voltage, voltageKey{l, VoltageTypeOptimizerString})
}

// SetLastUpdated sets the global last updated time
func (c *OptimizerCollector) SetLastUpdated(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdated = epoch(t)
}

// SetUp sets the global status (1 = up, 0 = down)
func (c *OptimizerCollector) SetUp(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if up {
		c.up = 1
	} else {
		c.up = 0
	}
}

func epoch(t time.Time) float64 {
	return float64(t.Unix())
}

// Describe implements prometheus.Collector
func (c *OptimizerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.powerDesc
	ch <- c.currentDesc
	ch <- c.voltageDesc
	ch <- c.energyDesc
	ch <- c.updatedAtDesc
	ch <- c.lastUpdatedDesc
	ch <- c.upDesc
}

// Collect implements prometheus.Collector
func (c *OptimizerCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for l, v := range c.power {
		ch <- prometheus.MustNewConstMetric(c.powerDesc, prometheus.GaugeValue, v, l.values()...)
	}
	for l, v := range c.current {
		ch <- prometheus.MustNewConstMetric(c.currentDesc, prometheus.GaugeValue, v, l.values()...)
	}
	for k, v := range c.voltage {
		ch <- prometheus.MustNewConstMetric(c.voltageDesc, prometheus.GaugeValue, v, append(k.values(), k.Type)...)
	}
	for l, v := range c.energy {
		ch <- prometheus.MustNewConstMetric(c.energyDesc, prometheus.CounterValue, v, l.values()...)
	}
	for l, v := range c.updatedAt {
		ch <- prometheus.MustNewConstMetric(c.updatedAtDesc, prometheus.GaugeValue, v, l.values()...)
	}

	ch <- prometheus.MustNewConstMetric(c.lastUpdatedDesc, prometheus.GaugeValue, c.lastUpdated)
	ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, c.up)
}
