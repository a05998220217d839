// Package influxdb records gateway readings as time series.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// The bridge writes three measurements:
//
//	meter_power   live power per meter, from energy_consumption events
//	meter_energy  cumulative energy per meter, from energy/total polls
//	apparatus     numeric apparatus attributes, one field "value"
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteMeterPower("1", "Grid", 2310)
package influxdb
