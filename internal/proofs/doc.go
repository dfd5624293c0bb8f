// Package proofs defines the note and proof-output model shared by the
// validators, the proof cache and the note registries, together with the
// word-aligned binary codec used to move proof outputs between them.
package proofs
