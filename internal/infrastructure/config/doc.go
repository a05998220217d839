// Package config handles loading and validating the bridge configuration.
//
// Configuration is read once at startup from YAML, layered over built-in
// defaults, and then overridden by ONESMART_* environment variables.
// Gateway credentials should be supplied through the environment rather
// than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.Address())
package config
