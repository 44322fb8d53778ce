package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client interface for SolarEdge monitoring backend communication
type Client interface {
	GetSite(ctx context.Context) (*Site, error)
	GetLifetimeEnergy(ctx context.Context) (LifetimeEnergy, error)
	GetReading(ctx context.Context, optimizerID string) (*Reading, error)
}

// Site is the logical layout of a site
type Site struct {
	ID        string
	Inverters []Inverter
}

// Inverter contains the strings attached to one inverter
type Inverter struct {
	ID           string
	SerialNumber string
	Name         string
	Strings      []String
}

// String is a series chain of optimizers
type String struct {
	ID         string
	Name       string
	Optimizers []Optimizer
}

// Optimizer identifies a single panel optimizer
type Optimizer struct {
	ID           string
	SerialNumber string
	Name         string
	DisplayName  string
}

// Optimizers returns every optimizer of the site in layout order
func (s *Site) Optimizers() []Optimizer {
	var out []Optimizer
	for _, inv := range s.Inverters {
		for _, str := range inv.Strings {
			out = append(out, str.Optimizers...)
		}
	}
	return out
}

// Reading is the latest measurement of an optimizer
type Reading struct {
	Power            float64
	Current          float64
	Voltage          float64
	OptimizerVoltage float64
	Model            string
	Manufacturer     string
	LastMeasurement  time.Time
}

// LifetimeEnergy maps optimizer id to its unscaled lifetime energy (Wh)
type LifetimeEnergy map[string]float64

// KWh returns the lifetime energy of an optimizer in kWh
func (e LifetimeEnergy) KWh(optimizerID string) (float64, bool) {
	if e == nil {
		return 0, false
	}
	v, ok := e[optimizerID]
	if !ok {
		return 0, false
	}
	return v / 1000, true
}

// FetchError is returned for any failed backend request: transport errors,
// timeouts, unexpected status codes and undecodable responses
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable backend failure
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
