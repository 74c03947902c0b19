// Package config loads typed configuration structs from environment
// variables.
//
// Load reads a .env file once per process (missing files are fine), then
// parses env tags via github.com/caarlos0/env. Each configuration type is
// parsed once and cached, so independent components can load the same type
// without re-reading the environment.
package config
