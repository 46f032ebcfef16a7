// Package registry owns the pool of media sources a transfer engine reads
// through.
//
// Build turns configured URLs into clients:
//
//	https://mirror-a.example.com/media   HTTP range source
//	s3://bucket?region=eu-west-1         blob bucket (also gs://, file://, mem://)
//
// Ids follow configuration order. A client that reaches MaxFailures
// connection failures stays out of Clients until Enable is called or a
// HealthCheck finds it answering again. Watch runs HealthCheck on a timer.
package registry
