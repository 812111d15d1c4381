// Package influxdb records runtime time-series in InfluxDB v2: one point per
// device lifecycle change and one per recipe transition.
//
// Writes never block the caller. Points are batched by the client library
// and flushed on an interval or on Close; write failures are reported
// asynchronously through SetOnError. A nil or closed *Client silently drops
// points, so callers do not need to check whether InfluxDB is enabled.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without time-series
//	}
//	client.WriteDeviceStatus(id, "greeter", "running", time.Now())
package influxdb
