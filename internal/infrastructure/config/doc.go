// Package config handles loading and validating the TRF bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with TRF_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Broker and InfluxDB credentials should be supplied through the environment
// rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
