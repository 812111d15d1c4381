// Package api exposes the runtime over HTTP and WebSocket.
//
// The REST surface under /api/v1 manages recipes and variables, applies
// transitions, lists the running devices and sends them a handful of
// typed messages. It is a thin adapter: every call goes through the
// recipe store, the transition engine or the actor system's Ask API.
//
// WebSocket clients subscribe to channels (transition.applied,
// device.status_changed, recipe.file_changed) and receive the events the
// events dispatcher broadcasts through the Hub.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
