package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"OpenACE-Chain/sdk/go/aceclient"
)

func newRegistryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "票据注册表",
	}
	cmd.AddCommand(
		newRegistryCreateCmd(flags),
		newRegistryShowCmd(flags),
		newRegistryNoteCmd(flags),
		newRegistryApproveCmd(flags),
		newRegistryAllowanceCmd(flags),
		newRegistryUpdateCmd(flags),
	)
	return cmd
}

func newRegistryCreateCmd(flags *globalFlags) *cobra.Command {
	var (
		token        string
		scaling      string
		adjustSupply bool
		canConvert   bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "为调用方创建票据注册表",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := aceclient.RegistrySettings{CanAdjustSupply: adjustSupply, CanConvert: canConvert}
			if token != "" {
				addr, err := parseAddress(token)
				if err != nil {
					return err
				}
				settings.LinkedToken = addr
			}
			factor, ok := new(big.Int).SetString(scaling, 0)
			if !ok {
				return fmt.Errorf("无效的缩放因子: %s", scaling)
			}
			settings.ScalingFactor = factor
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			reg, err := c.CreateRegistry(ctx, settings)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reg)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "关联的 ERC20 代币地址")
	cmd.Flags().StringVar(&scaling, "scaling-factor", "1", "每单位机密金额对应的代币数量")
	cmd.Flags().BoolVar(&adjustSupply, "can-adjust-supply", false, "允许铸造与销毁证明")
	cmd.Flags().BoolVar(&canConvert, "can-convert", true, "允许公开代币与票据互换")
	return cmd
}

// ownerArg 解析可选的注册表所有者参数，缺省为调用方自己。
func ownerArg(flags *globalFlags, args []string) (common.Address, error) {
	if len(args) > 0 {
		return parseAddress(args[0])
	}
	return flags.sender("")
}

func newRegistryShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show [owner]",
		Short: "查看注册表状态",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerArg(flags, args)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			reg, err := c.Registry(ctx, owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reg)
		},
	}
}

func newRegistryNoteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "note <owner> <note-hash>",
		Short: "查看注册表中的票据",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			hash, err := parseHash(args[1])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			note, err := c.Note(ctx, owner, hash)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), note)
		},
	}
}

func newRegistryApproveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <owner> <proof-hash> <value>",
		Short: "授权注册表为某个证明划转公开代币",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			hash, err := parseHash(args[1])
			if err != nil {
				return err
			}
			value, ok := new(big.Int).SetString(args[2], 0)
			if !ok || value.Sign() < 0 {
				return fmt.Errorf("无效的授权金额: %s", args[2])
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			approval, err := c.Approve(ctx, owner, hash, value)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), approval)
		},
	}
}

func newRegistryAllowanceCmd(flags *globalFlags) *cobra.Command {
	var approver string
	cmd := &cobra.Command{
		Use:   "allowance <owner> <proof-hash>",
		Short: "查看某个证明的累计公开授权",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			hash, err := parseHash(args[1])
			if err != nil {
				return err
			}
			who, err := flags.sender(approver)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			approval, err := c.Approval(ctx, owner, who, hash)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), approval)
		},
	}
	cmd.Flags().StringVar(&approver, "approver", "", "授权方地址，默认为签名地址")
	return cmd
}

func newRegistryUpdateCmd(flags *globalFlags) *cobra.Command {
	var (
		output dataFlags
		sender string
	)
	cmd := &cobra.Command{
		Use:   "update <proof-type>",
		Short: "把已校验的证明输出应用到调用方的注册表",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parseProofType(args[0])
			if err != nil {
				return err
			}
			record, err := output.read()
			if err != nil {
				return err
			}
			if sender == "" {
				return fmt.Errorf("需要 --sender 指定校验过该证明的地址")
			}
			proofSender, err := parseAddress(sender)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			receipt, err := c.UpdateRegistry(ctx, pt, proofSender, record)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
	output.bind(cmd, "output", "单条证明输出")
	cmd.Flags().StringVar(&sender, "sender", "", "校验过该证明的地址")
	return cmd
}
