package influxdb

import "github.com/influxdata/influxdb-client-go/v2/api/write"

// Measurement names.
const (
	MeasurementMeterPower  = "meter_power"
	MeasurementMeterEnergy = "meter_energy"
	MeasurementApparatus   = "apparatus"
)

// WriteMeterPower records a live power reading in watts.
func (c *Client) WriteMeterPower(meterID, name string, watts float64) {
	c.writePoint(MeasurementMeterPower,
		map[string]string{"meter_id": meterID, "name": name},
		map[string]any{"watts": watts},
	)
}

// WriteMeterEnergy records a cumulative energy reading in watt-hours.
func (c *Client) WriteMeterEnergy(meterID, name string, wattHours float64) {
	c.writePoint(MeasurementMeterEnergy,
		map[string]string{"meter_id": meterID, "name": name},
		map[string]any{"watt_hours": wattHours},
	)
}

// WriteApparatusValue records one numeric apparatus attribute.
//
// Parameters:
//   - deviceID: Gateway device id (e.g., "10")
//   - attribute: Attribute name (e.g., "room_temperature_zone1")
//   - value: The decoded numeric value
func (c *Client) WriteApparatusValue(deviceID, attribute string, value float64) {
	c.writePoint(MeasurementApparatus,
		map[string]string{"device_id": deviceID, "attribute": attribute},
		map[string]any{"value": value},
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
