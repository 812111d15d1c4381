// Package events fans runtime happenings out to the outer surfaces.
//
// A Dispatcher receives three kinds of event: finished recipe transitions
// (it is a transition.Observer), device lifecycle changes (its StatusChanged
// method is the supervisor's status hook) and out-of-band edits of the
// recipe file. Each event is queued and delivered on the Dispatcher's own
// goroutine to every configured sink: the transition history, MQTT, InfluxDB
// and WebSocket clients. Producers never block on a slow sink; when the
// queue is full the event is dropped and counted.
//
// Commands goes the other way: it turns MQTT command messages into recipe
// applies.
package events
