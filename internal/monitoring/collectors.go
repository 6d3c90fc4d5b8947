package monitoring

import (
	"strconv"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/constraints"

	"github.com/coregov/coregov/internal/hotplug"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "coregov"

	unitLabel string = "unit"
	dirLabel  string = "direction"
)

// StatusProvider is the governor surface the collectors read from.
type StatusProvider interface {
	Status() hotplug.Status
}

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newPerUnitCollector is a generic factory of prometheus Collectors for
// per-unit governor metrics. readFunc extracts the value from a unit's
// snapshot; returning false skips the unit for this scrape (value unknown).
func newPerUnitCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	provider StatusProvider, readFunc func(hotplug.UnitStatus) (T, bool), log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", metricName),
		metricDesc,
		[]string{unitLabel},
		nil,
	)

	return collectorImpl{
		collectFunc: func(ch chan<- prom.Metric) {
			status := provider.Status()
			for unit, unitStatus := range status.Units {
				value, known := readFunc(unitStatus)
				if !known {
					log.V(5).Info("skipping unknown sample", "metric", metricName, "unit", unit)
					continue
				}
				ch <- prom.MustNewConstMetric(desc, metricType, float64(value),
					strconv.Itoa(unit))
			}
		},
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
	}
}

func newGovernorCollector(provider StatusProvider) prom.Collector {
	enabledDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "enabled"),
		"Whether the hotplug governor is enabled.",
		nil, nil,
	)
	rqAvgDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "runqueue_avg"),
		"Smoothed run-queue depth, scaled by 100.",
		nil, nil,
	)
	transitionsDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "transitions_total"),
		"Completed unit transitions by direction.",
		[]string{dirLabel}, nil,
	)
	resyncsDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "resyncs_total"),
		"Tracker resynchronizations after external hotplug events.",
		nil, nil,
	)

	return collectorImpl{
		collectFunc: func(ch chan<- prom.Metric) {
			status := provider.Status()

			enabled := 0.0
			if status.Enabled {
				enabled = 1.0
			}
			ch <- prom.MustNewConstMetric(enabledDesc, prom.GaugeValue, enabled)
			ch <- prom.MustNewConstMetric(rqAvgDesc, prom.GaugeValue, float64(status.RunQueueAvg))
			ch <- prom.MustNewConstMetric(transitionsDesc, prom.CounterValue,
				float64(status.UpTransitions), "up")
			ch <- prom.MustNewConstMetric(transitionsDesc, prom.CounterValue,
				float64(status.DownTransitions), "down")
			ch <- prom.MustNewConstMetric(resyncsDesc, prom.CounterValue, float64(status.Resyncs))
		},
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- enabledDesc
			ch <- rqAvgDesc
			ch <- transitionsDesc
			ch <- resyncsDesc
		},
	}
}

// RegisterAll registers every governor collector on the given registerer.
func RegisterAll(reg prom.Registerer, provider StatusProvider, log logr.Logger) error {
	collectors := []prom.Collector{
		newGovernorCollector(provider),
		newPerUnitCollector("unit_online", "Whether the unit is online per governor bookkeeping.",
			prom.GaugeValue, provider,
			func(u hotplug.UnitStatus) (int, bool) {
				if u.Online {
					return 1, true
				}
				return 0, true
			}, log),
		newPerUnitCollector("unit_load_percent", "Last known unit load percentage.",
			prom.GaugeValue, provider,
			func(u hotplug.UnitStatus) (int, bool) { return u.Load, u.Load >= 0 }, log),
		newPerUnitCollector("unit_frequency_khz", "Last known unit clock frequency in kHz.",
			prom.GaugeValue, provider,
			func(u hotplug.UnitStatus) (uint, bool) { return u.FreqKHz, u.FreqKHz > 0 }, log),
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
