package lvi

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports the heater registry as Prometheus gauges. It
// reads the snapshot from the last UpdateHeaters; the poll loop that
// refreshes the registry lives with the caller.
type MetricsCollector struct {
	client *Client

	ambient     *prometheus.GaugeVec
	target      *prometheus.GaugeVec
	floor       *prometheus.GaugeVec
	heatingUp   *prometheus.GaugeVec
	powerOn     *prometheus.GaugeVec
	reachable   *prometheus.GaugeVec
	powerWatts  *prometheus.GaugeVec
	lastUpdated *prometheus.GaugeVec
	heaterCount prometheus.Gauge
	connected   prometheus.Gauge
}

func NewMetricsCollector(client *Client) *MetricsCollector {
	labels := []string{"device_id", "name"}
	return &MetricsCollector{
		client: client,
		ambient: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_ambient_temperature_celsius",
			Help: "Measured air temperature per heater",
		}, labels),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_target_temperature_celsius",
			Help: "Manual setpoint per heater",
		}, labels),
		floor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_floor_temperature_celsius",
			Help: "Floor sensor temperature per heater (0 without sensor)",
		}, labels),
		heatingUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_heating_active_bool",
			Help: "Heater currently heating (1=yes, 0=no)",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_power_on_bool",
			Help: "Heater power setting (1=on, 0=off)",
		}, labels),
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_reachable_bool",
			Help: "Gateway radio contact with the heater (1=ok, 0=lost)",
		}, labels),
		powerWatts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_power_watts",
			Help: "Rated power draw per heater",
		}, labels),
		lastUpdated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pylvi_heater_last_updated_timestamp_seconds",
			Help: "Vendor-reported last update per heater (epoch seconds)",
		}, labels),
		heaterCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pylvi_heaters",
			Help: "Heaters in the registry",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pylvi_session_connected",
			Help: "Session state (1=connected, 0=not)",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.ambient.Describe(ch)
	c.target.Describe(ch)
	c.floor.Describe(ch)
	c.heatingUp.Describe(ch)
	c.powerOn.Describe(ch)
	c.reachable.Describe(ch)
	c.powerWatts.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.heaterCount.Describe(ch)
	c.connected.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.ambient.Reset()
	c.target.Reset()
	c.floor.Reset()
	c.heatingUp.Reset()
	c.powerOn.Reset()
	c.reachable.Reset()
	c.powerWatts.Reset()
	c.lastUpdated.Reset()

	heaters := c.client.Heaters()
	for _, heater := range heaters {
		labels := prometheus.Labels{
			"device_id": heater.DeviceID,
			"name":      heater.Name,
		}
		c.ambient.With(labels).Set(heater.AmbientTemp)
		c.target.With(labels).Set(heater.TargetTemp)
		c.floor.With(labels).Set(heater.FloorTemp)
		c.heatingUp.With(labels).Set(boolToFloat(heater.HeatingUp))
		c.powerOn.With(labels).Set(boolToFloat(heater.PowerOn))
		c.reachable.With(labels).Set(boolToFloat(heater.Reachable))
		c.powerWatts.With(labels).Set(heater.PowerWatts)
		if !heater.LastUpdate.IsZero() {
			c.lastUpdated.With(labels).Set(float64(heater.LastUpdate.Unix()))
		}
	}

	c.heaterCount.Set(float64(len(heaters)))
	c.connected.Set(boolToFloat(c.client.State() == StateConnected))

	c.ambient.Collect(ch)
	c.target.Collect(ch)
	c.floor.Collect(ch)
	c.heatingUp.Collect(ch)
	c.powerOn.Collect(ch)
	c.reachable.Collect(ch)
	c.powerWatts.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.heaterCount.Collect(ch)
	c.connected.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
