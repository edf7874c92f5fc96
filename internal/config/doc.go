// Package config loads server configuration from the environment.
//
// All live room policy values (message size, rate limits, keepalive timing,
// room capacity) live here with reference-policy defaults.
package config
