package main

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func newCRSCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crs",
		Short: "公共参考串",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "查看当前公共参考串",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			crs, err := c.CRS(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]hexutil.Bytes{"crs": crs})
		},
	}, &cobra.Command{
		Use:   "set <hex>",
		Short: "替换公共参考串 (仅所有者)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			crs, err := hexutil.Decode(args[0])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			if err := c.SetCRS(ctx, crs); err != nil {
				return err
			}
			cmd.Println("公共参考串已更新")
			return nil
		},
	})
	return cmd
}
