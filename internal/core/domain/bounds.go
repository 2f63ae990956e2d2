package domain

import (
	"fmt"
	"math"
)

// Metric names a measured quantity bounds can be attached to.
type Metric string

const (
	MetricActivePower   Metric = "active_power"
	MetricReactivePower Metric = "reactive_power"
	MetricVoltage       Metric = "voltage"
	MetricFrequency     Metric = "frequency"
	MetricCurrent       Metric = "current"
	MetricStateOfCharge Metric = "state_of_charge"
	MetricTemperature   Metric = "temperature"
)

var supportedMetrics = map[Metric]bool{
	MetricActivePower:   true,
	MetricReactivePower: true,
	MetricVoltage:       true,
	MetricFrequency:     true,
	MetricCurrent:       true,
	MetricStateOfCharge: true,
	MetricTemperature:   true,
}

func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	if !supportedMetrics[m] {
		return "", InvalidArgument(fmt.Sprintf("unsupported metric %q", s))
	}
	return m, nil
}

// IsPower reports whether the metric carries the zero-is-always-in-range
// override.
func (m Metric) IsPower() bool {
	return m == MetricActivePower || m == MetricReactivePower
}

// Interval is a closed inclusion interval [Lower, Upper].
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func (i Interval) Contains(v float64) bool {
	return v >= i.Lower && v <= i.Upper
}

func (i Interval) Validate() error {
	if math.IsNaN(i.Lower) || math.IsNaN(i.Upper) || math.IsInf(i.Lower, 0) || math.IsInf(i.Upper, 0) {
		return InvalidArgument("bound limits must be finite")
	}
	if i.Lower > i.Upper {
		return InvalidArgument(fmt.Sprintf("bound lower %g exceeds upper %g", i.Lower, i.Upper))
	}
	return nil
}
