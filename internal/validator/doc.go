// Package validator keeps the owner-gated table that routes each proof type
// to the verifier responsible for it, plus a catalog of verifier factories
// that can be bound to proof types by name.
package validator
