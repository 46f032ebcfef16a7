// Package server serves media over HTTP with a transfer.Engine.
//
// Routes:
//
//	GET  /media/{id}    whole object, or a single "Range: bytes=" range (206)
//	HEAD /media/{id}    size and range headers only
//	GET  /healthz       200 while at least one client is available
//	GET  /debug/loads   per-client load counters and health as JSON
//
// Engine errors map to 404 (not found), 416 (unsatisfiable range), 502
// (connection failure) and 503 (rate limited, with Retry-After).
package server
