package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/R167/solaredge_exporter/internal/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var errTimeout = &client.FetchError{Op: "test", Err: errors.New("connection timeout")}

// fakeClient returns scripted results and records the calls made
type fakeClient struct {
	mu       sync.Mutex
	site     *client.Site
	siteErr  error
	energy   client.LifetimeEnergy
	energyEr error
	readings map[string]*client.Reading
	readErrs map[string]error
	calls    []string
}

func newFakeClient(site *client.Site) *fakeClient {
	return &fakeClient{
		site:     site,
		readings: make(map[string]*client.Reading),
		readErrs: make(map[string]error),
	}
}

func (f *fakeClient) GetSite(ctx context.Context) (*client.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "site")
	if f.siteErr != nil {
		return nil, f.siteErr
	}
	return f.site, nil
}

func (f *fakeClient) GetLifetimeEnergy(ctx context.Context) (client.LifetimeEnergy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "energy")
	if f.energyEr != nil {
		return nil, f.energyEr
	}
	return f.energy, nil
}

func (f *fakeClient) GetReading(ctx context.Context, optimizerID string) (*client.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reading:"+optimizerID)
	if err := f.readErrs[optimizerID]; err != nil {
		return nil, err
	}
	return f.readings[optimizerID], nil
}

// testSite builds a site with one inverter and one string holding the given optimizers
func testSite(ids ...string) *client.Site {
	str := client.String{ID: "s1", Name: "String 1.1"}
	for i, id := range ids {
		str.Optimizers = append(str.Optimizers, client.Optimizer{
			ID:           id,
			SerialNumber: "SN-" + id,
			Name:         "Optimizer " + id,
			DisplayName:  "1.1." + string(rune('1'+i)),
		})
	}
	return &client.Site{
		ID: "1234567",
		Inverters: []client.Inverter{
			{ID: "inv1", SerialNumber: "INV-1", Strings: []client.String{str}},
		},
	}
}

func testReading(power float64, last time.Time) *client.Reading {
	return &client.Reading{
		Power:            power,
		Current:          power / 40,
		Voltage:          40,
		OptimizerVoltage: 41,
		Model:            "P370",
		Manufacturer:     "SolarEdge",
		LastMeasurement:  last,
	}
}

func testLabels(id string, position string) OptimizerLabels {
	return OptimizerLabels{
		ID:           id,
		SerialNumber: "SN-" + id,
		Position:     position,
		Model:        "P370",
		Manufacturer: "SolarEdge",
		Array:        "unknown",
	}
}

type testPoller struct {
	*Poller
	sleeps []time.Duration
}

func newTestPoller(c client.Client, now time.Time) *testPoller {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	tp := &testPoller{}
	tp.Poller = NewPoller(c, NewOptimizerCollector(), PollerConfig{Interval: time.Minute}, logger)
	tp.now = func() time.Time { return now }
	tp.sleep = func(ctx context.Context, d time.Duration) bool {
		tp.sleeps = append(tp.sleeps, d)
		return ctx.Err() == nil
	}
	return tp
}

// seriesValue gathers c and returns the value of the series with the given
// name and labels
func seriesValue(t *testing.T, c prometheus.Collector, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; !ok || v != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue(), true
			}
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func labelMap(l OptimizerLabels) map[string]string {
	return map[string]string{
		"id":           l.ID,
		"serialnumber": l.SerialNumber,
		"position":     l.Position,
		"model":        l.Model,
		"manufacturer": l.Manufacturer,
		"array":        l.Array,
	}
}

func voltageLabelMap(l OptimizerLabels, voltageType string) map[string]string {
	m := labelMap(l)
	m["type"] = voltageType
	return m
}
