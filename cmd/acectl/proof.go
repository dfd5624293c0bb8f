package main

import (
	"errors"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"OpenACE-Chain/internal/proofs"
)

var proofTypeNames = map[string]proofs.ProofType{
	"joinsplit": proofs.JoinSplitProof,
	"mint":      proofs.MintProof,
	"burn":      proofs.BurnProof,
}

// parseProofType 接受常用证明的名称或数字编号。
func parseProofType(s string) (uint32, error) {
	if pt, ok := proofTypeNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return uint32(pt), nil
	}
	pt, err := proofs.ParseProofType(s)
	if err != nil {
		return 0, err
	}
	return uint32(pt), nil
}

// dataFlags 让命令从参数或文件读取十六进制数据。
type dataFlags struct {
	hex  string
	file string
}

func (d *dataFlags) bind(cmd *cobra.Command, name, usage string) {
	cmd.Flags().StringVar(&d.hex, name, "", usage+" (十六进制)")
	cmd.Flags().StringVar(&d.file, name+"-file", "", usage+"所在文件")
}

func (d *dataFlags) read() ([]byte, error) {
	raw := d.hex
	if d.file != "" {
		data, err := os.ReadFile(d.file)
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("缺少输入数据")
	}
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	return hexutil.Decode(raw)
}

func newProofCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "证明校验与缓存",
	}
	cmd.AddCommand(
		newProofValidateCmd(flags),
		newProofCheckCmd(flags),
		newProofClearCmd(flags),
		newProofProcessCmd(flags),
	)
	return cmd
}

func newProofValidateCmd(flags *globalFlags) *cobra.Command {
	var (
		data   dataFlags
		sender string
	)
	cmd := &cobra.Command{
		Use:   "validate <proof-type>",
		Short: "校验证明并记录其输出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parseProofType(args[0])
			if err != nil {
				return err
			}
			proof, err := data.read()
			if err != nil {
				return err
			}
			from, err := flags.sender(sender)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			out, err := c.ValidateProof(ctx, pt, from, proof)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	data.bind(cmd, "data", "证明数据")
	cmd.Flags().StringVar(&sender, "sender", "", "证明发送方，默认为签名地址")
	return cmd
}

func newProofCheckCmd(flags *globalFlags) *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "check <proof-type> <proof-hash>",
		Short: "查询某个发送方是否校验过证明输出",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parseProofType(args[0])
			if err != nil {
				return err
			}
			hash, err := parseHash(args[1])
			if err != nil {
				return err
			}
			from, err := flags.sender(sender)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			status, err := c.ProofStatus(ctx, pt, hash, from)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "校验方地址，默认为签名地址")
	return cmd
}

func newProofClearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <proof-type> <proof-hash>...",
		Short: "清除调用方记录的校验结果",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parseProofType(args[0])
			if err != nil {
				return err
			}
			hashes := make([]common.Hash, 0, len(args)-1)
			for _, raw := range args[1:] {
				h, err := parseHash(raw)
				if err != nil {
					return err
				}
				hashes = append(hashes, h)
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			if err := c.ClearProofs(ctx, pt, hashes...); err != nil {
				return err
			}
			cmd.Printf("已清除 %d 条校验记录\n", len(hashes))
			return nil
		},
	}
}

func newProofProcessCmd(flags *globalFlags) *cobra.Command {
	var (
		data   dataFlags
		sender string
	)
	cmd := &cobra.Command{
		Use:   "process <proof-type>",
		Short: "校验证明并把全部输出应用到调用方的注册表",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parseProofType(args[0])
			if err != nil {
				return err
			}
			proof, err := data.read()
			if err != nil {
				return err
			}
			from, err := flags.sender(sender)
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			receipts, err := c.ProcessProof(ctx, pt, from, proof)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipts)
		},
	}
	data.bind(cmd, "data", "证明数据")
	cmd.Flags().StringVar(&sender, "sender", "", "证明发送方，默认为签名地址")
	return cmd
}
