// Package telemetry builds the zap.Logger used throughout the router
// from a config.LogConfig, so every component gets the same level,
// encoding and output configuration instead of each reaching for
// zap.NewProduction or zap.NewDevelopment independently.
package telemetry
