package main

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "生成新的 secp256k1 私钥",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"address":     crypto.PubkeyToAddress(key.PublicKey).Hex(),
				"private_key": hex.EncodeToString(crypto.FromECDSA(key)),
			})
		},
	}
}
