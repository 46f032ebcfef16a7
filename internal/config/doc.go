// Package config defines configuration structures for the fanout CLI and
// server.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (FANOUT_ prefix)
//   - YAML configuration file
//
// Sizes accept human-readable strings such as "1MiB" or "500KB" and
// durations use time.ParseDuration syntax.
//
// # Example
//
//	clients:
//	  - https://mirror-a.example.com/media
//	  - https://mirror-b.example.com/media
//	  - s3://media-bucket?region=eu-west-1
//	workers: 8
//	chunk_size: 4MiB
//	log:
//	  level: debug
//	retry:
//	  attempts: 5
//	  backoff: 1s
package config
