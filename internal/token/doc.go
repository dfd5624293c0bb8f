// Package token abstracts the public ERC-20 style ledgers that back
// convertible note registries. A Ledger is bound to the operator address
// the engine acts as; Directory resolves a registry's linked token address
// to the ledger that serves it.
package token
