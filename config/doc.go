// Package config loads stagepipe service configuration.
//
// It uses Viper to read a YAML (or JSON/TOML) config file, loads an optional
// .env file with godotenv, and lets STAGEPIPE_-prefixed environment variables
// override any key using underscore-separated paths
// (STAGEPIPE_SCHEDULER_WORKERS overrides scheduler.workers).
//
// # Usage
//
//	var cfg AppConfig
//	err := config.LoadConfig("stagepipe", &cfg, config.WithConfigFile("config.yml"))
package config
