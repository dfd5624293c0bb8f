// Package api exposes the engine over HTTP: owner-gated CRS and validator
// management, proof validation and cache queries, note registry creation,
// approvals and updates, plus health and Prometheus endpoints. Callers are
// identified by the auth middleware; byte strings travel as 0x-prefixed hex.
package api
