// Package web3 describes the token ledgers the engine settles against:
// the tokens.yaml definitions, the ERC-20 ABI used for on-chain ledgers and
// the chain connection parameters shared by the ethereum and provider
// subpackages.
package web3
