// Package config loads and validates the runtime configuration.
//
// Values come from built-in defaults, then the YAML file, then GRAYLOGIC_*
// environment variables. Secrets (MQTT password, InfluxDB token) are best
// supplied through the environment.
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Recipes.Path)
package config
