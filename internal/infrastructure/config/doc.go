// Package config handles loading and validating SmartCare bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
//
// The per-bridge settings (endpoint URL, polling interval, channel bindings)
// live in a separate file referenced by protocols.smartcare.config_file and
// are loaded by the smartcare package.
package config
