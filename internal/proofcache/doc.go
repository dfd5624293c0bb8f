// Package proofcache records which proof outputs have passed validation so
// that note registries can trust them later without re-running the proof.
// Entries are keyed by proof hash, proof type and the address that asked
// for validation, and live until that address clears them.
package proofcache
