// Package logging provides structured logging for the runtime on top of
// log/slog.
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a child logger tagged with their name:
//
//	logger := logging.New(cfg.Logging, version)
//	store, err := recipe.Open(ctx, path, types, recipe.WithLogger(logger.With("component", "recipes")))
//
// Never log secrets such as the MQTT password or the InfluxDB token.
package logging
