// Package mqtt connects the runtime to an MQTT broker.
//
// The runtime publishes its own online/offline status (with an LWT so a
// crash shows up as offline), the lifecycle status of every device, and a
// report of each recipe transition. It subscribes to command topics so an
// operator can trigger a recipe apply without the HTTP API.
//
//	graylogic/runtime/status                 retained, online|offline
//	graylogic/runtime/device/{id}/status     retained, lifecycle status
//	graylogic/runtime/transition             retained, last report
//	graylogic/runtime/events/{type}          events
//	graylogic/runtime/command/{name}         inbound commands
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handle)
package mqtt
