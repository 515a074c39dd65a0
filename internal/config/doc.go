// Package config loads the service configuration.
//
// # Configuration Sources
//
// Values are resolved in the following order, later sources winning:
//
//	1. Default() values
//	2. A YAML file: $LICENSED_CONFIG, ./config.yaml or ./configs/config.yaml
//	3. Environment variables prefixed with LICENSED_
//
// # Environment Variables
//
// Nested sections are joined with underscores:
//
//	LICENSED_SERVER_PORT=8080
//	LICENSED_STORE_DRIVER=postgres
//	LICENSED_STORE_DATABASE_URL=postgres://licensed@localhost/licensed
//	LICENSED_STORE_REDIS_URL=redis://localhost:6379/0
//	LICENSED_LICENSING_BASELINE_CAPACITY=1
//	LICENSED_LICENSING_PRICE_BANDS=premium:1.80-1.99:USD;standard:0.80-0.99:USD
//	LICENSED_SECURITY_WEBHOOK_SECRET=change-me
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
