package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/adjustsupply"
	"OpenACE-Chain/internal/validator/joinsplit"
	"OpenACE-Chain/internal/validator/kernel"
)

// noteView 输出票据开口，调用方需要妥善保存 blinding 才能再次花费。
type noteView struct {
	Hash     common.Hash    `json:"hash"`
	Owner    common.Address `json:"owner"`
	Value    *big.Int       `json:"value"`
	Blinding *big.Int       `json:"blinding"`
}

type proveResult struct {
	ProofType uint32         `json:"proof_type"`
	Sender    common.Address `json:"sender"`
	Proof     hexutil.Bytes  `json:"proof"`
	Output    hexutil.Bytes  `json:"output"`
	ProofHash common.Hash    `json:"proof_hash"`
	Inputs    []noteView     `json:"inputs"`
	Outputs   []noteView     `json:"outputs"`
}

func newProveCmd(flags *globalFlags) *cobra.Command {
	var crsHex string
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "在本地构造证明",
		Long: `在本地构造证明，私密开口不会离开本机。

票据开口格式:
  输入票据   value:blinding:private-key
  输出票据   value:owner[:blinding]     省略 blinding 时随机生成
  总量票据   value:blinding             0:0 表示零票据`,
	}
	cmd.PersistentFlags().StringVar(&crsHex, "crs", "", "公共参考串 (十六进制)，默认使用内置参考串")
	crs := func() (validator.CRS, error) {
		if crsHex == "" {
			return kernel.DefaultCRS(), nil
		}
		raw, err := hexutil.Decode(crsHex)
		if err != nil {
			return nil, fmt.Errorf("无效的公共参考串: %w", err)
		}
		if _, err := kernel.ParseCRS(raw); err != nil {
			return nil, err
		}
		return raw, nil
	}
	cmd.AddCommand(
		newProveJoinSplitCmd(flags, crs),
		newProveMintCmd(flags, crs),
		newProveBurnCmd(flags, crs),
	)
	return cmd
}

func newProveJoinSplitCmd(flags *globalFlags, crs func() (validator.CRS, error)) *cobra.Command {
	var (
		sender      string
		inputs      []string
		outputs     []string
		publicOwner string
		publicValue string
	)
	cmd := &cobra.Command{
		Use:   "joinsplit",
		Short: "构造 join split 证明",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := crs()
			if err != nil {
				return err
			}
			from, err := flags.sender(sender)
			if err != nil {
				return err
			}
			req := joinsplit.Request{CRS: params, Sender: from, PublicValue: new(big.Int)}
			if req.Inputs, err = parseSecrets(inputs, parseInputSecret); err != nil {
				return err
			}
			if req.Outputs, err = parseSecrets(outputs, parseOutputSecret); err != nil {
				return err
			}
			if publicOwner != "" {
				if req.PublicOwner, err = parseAddress(publicOwner); err != nil {
					return err
				}
			}
			if publicValue != "" {
				v, ok := new(big.Int).SetString(publicValue, 0)
				if !ok {
					return fmt.Errorf("无效的公开金额: %s", publicValue)
				}
				req.PublicValue = v
			}
			proof, err := joinsplit.Prove(req)
			if err != nil {
				return err
			}
			return writeProof(cmd, proofs.JoinSplitProof, from, proof.Data, proof.Output, req.Inputs, req.Outputs)
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "证明发送方，默认为签名地址")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "输入票据 value:blinding:private-key，可重复")
	cmd.Flags().StringArrayVar(&outputs, "output", nil, "输出票据 value:owner[:blinding]，可重复")
	cmd.Flags().StringVar(&publicOwner, "public-owner", "", "公开代币的收付方")
	cmd.Flags().StringVar(&publicValue, "public-value", "0", "公开金额，负数表示存入，正数表示提取")
	return cmd
}

func newProveMintCmd(flags *globalFlags, crs func() (validator.CRS, error)) *cobra.Command {
	var (
		sender    string
		oldSupply string
		newSupply string
		notes     []string
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "构造铸造证明",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := crs()
			if err != nil {
				return err
			}
			from, err := flags.sender(sender)
			if err != nil {
				return err
			}
			req := adjustsupply.MintRequest{CRS: params, Sender: from}
			if req.OldSupply, err = parseTotalSecret(oldSupply, from); err != nil {
				return err
			}
			if req.NewSupply, err = parseTotalSecret(newSupply, from); err != nil {
				return err
			}
			if req.Minted, err = parseSecrets(notes, parseOutputSecret); err != nil {
				return err
			}
			proof, err := adjustsupply.ProveMint(req)
			if err != nil {
				return err
			}
			outputs := append([]kernel.Secret{req.NewSupply}, req.Minted...)
			return writeProof(cmd, proofs.MintProof, from, proof.Data, proof.Output, []kernel.Secret{req.OldSupply}, outputs)
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "证明发送方，默认为签名地址")
	cmd.Flags().StringVar(&oldSupply, "old-supply", "0:0", "当前已铸造总量 value:blinding")
	cmd.Flags().StringVar(&newSupply, "new-supply", "", "新的已铸造总量 value[:blinding]")
	cmd.Flags().StringArrayVar(&notes, "note", nil, "铸造出的票据 value:owner[:blinding]，可重复")
	_ = cmd.MarkFlagRequired("new-supply")
	return cmd
}

func newProveBurnCmd(flags *globalFlags, crs func() (validator.CRS, error)) *cobra.Command {
	var (
		sender    string
		oldBurned string
		newBurned string
		notes     []string
	)
	cmd := &cobra.Command{
		Use:   "burn",
		Short: "构造销毁证明",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := crs()
			if err != nil {
				return err
			}
			from, err := flags.sender(sender)
			if err != nil {
				return err
			}
			req := adjustsupply.BurnRequest{CRS: params, Sender: from}
			if req.OldBurned, err = parseTotalSecret(oldBurned, from); err != nil {
				return err
			}
			if req.NewBurned, err = parseTotalSecret(newBurned, from); err != nil {
				return err
			}
			if req.Burned, err = parseSecrets(notes, parseInputSecret); err != nil {
				return err
			}
			proof, err := adjustsupply.ProveBurn(req)
			if err != nil {
				return err
			}
			inputs := append([]kernel.Secret{req.OldBurned}, req.Burned...)
			return writeProof(cmd, proofs.BurnProof, from, proof.Data, proof.Output, inputs, []kernel.Secret{req.NewBurned})
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "证明发送方，默认为签名地址")
	cmd.Flags().StringVar(&oldBurned, "old-burned", "0:0", "当前已销毁总量 value:blinding")
	cmd.Flags().StringVar(&newBurned, "new-burned", "", "新的已销毁总量 value[:blinding]")
	cmd.Flags().StringArrayVar(&notes, "note", nil, "被销毁的票据 value:blinding:private-key，可重复")
	_ = cmd.MarkFlagRequired("new-burned")
	return cmd
}

func writeProof(cmd *cobra.Command, pt proofs.ProofType, sender common.Address, data []byte, output proofs.ProofOutput, inputs, outputs []kernel.Secret) error {
	record, err := proofs.EncodeProofOutput(output)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), proveResult{
		ProofType: uint32(pt),
		Sender:    sender,
		Proof:     data,
		Output:    record,
		ProofHash: proofs.HashProofOutput(record),
		Inputs:    noteViews(output.InputNotes, inputs),
		Outputs:   noteViews(output.OutputNotes, outputs),
	})
}

func noteViews(notes []proofs.Note, secrets []kernel.Secret) []noteView {
	views := make([]noteView, len(notes))
	for i, n := range notes {
		views[i] = noteView{Hash: n.NoteHash, Owner: n.Owner}
		if i < len(secrets) {
			views[i].Value = secrets[i].Value
			views[i].Blinding = secrets[i].Blinding
		}
	}
	return views
}

// parseSecrets 的错误信息只带序号，避免把私钥回显到终端。
func parseSecrets(openings []string, parse func(string) (kernel.Secret, error)) ([]kernel.Secret, error) {
	secrets := make([]kernel.Secret, 0, len(openings))
	for i, raw := range openings {
		s, err := parse(raw)
		if err != nil {
			return nil, fmt.Errorf("第 %d 张票据: %w", i+1, err)
		}
		secrets = append(secrets, s)
	}
	return secrets, nil
}

// parseInputSecret 解析 value:blinding:private-key，owner 取私钥对应的地址。
func parseInputSecret(raw string) (kernel.Secret, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return kernel.Secret{}, fmt.Errorf("输入票据格式应为 value:blinding:private-key")
	}
	value, err := parseAmount(parts[0])
	if err != nil {
		return kernel.Secret{}, err
	}
	blinding, err := parseScalar(parts[1])
	if err != nil {
		return kernel.Secret{}, err
	}
	key, err := parseKey(parts[2])
	if err != nil {
		return kernel.Secret{}, err
	}
	return kernel.Secret{Owner: crypto.PubkeyToAddress(key.PublicKey), Value: value, Blinding: blinding, Key: key}, nil
}

// parseOutputSecret 解析 value:owner[:blinding]。
func parseOutputSecret(raw string) (kernel.Secret, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return kernel.Secret{}, fmt.Errorf("输出票据格式应为 value:owner[:blinding]")
	}
	value, err := parseAmount(parts[0])
	if err != nil {
		return kernel.Secret{}, err
	}
	owner, err := parseAddress(parts[1])
	if err != nil {
		return kernel.Secret{}, err
	}
	var blinding *big.Int
	if len(parts) == 3 {
		blinding, err = parseScalar(parts[2])
	} else {
		blinding, err = kernel.RandomScalar()
	}
	if err != nil {
		return kernel.Secret{}, err
	}
	return kernel.Secret{Owner: owner, Value: value, Blinding: blinding}, nil
}

// parseTotalSecret 解析总量票据 value[:blinding]，owner 固定为发送方。
func parseTotalSecret(raw string, owner common.Address) (kernel.Secret, error) {
	parts := strings.Split(raw, ":")
	if len(parts) > 2 || parts[0] == "" {
		return kernel.Secret{}, fmt.Errorf("总量票据格式应为 value[:blinding]")
	}
	value, err := parseAmount(parts[0])
	if err != nil {
		return kernel.Secret{}, err
	}
	var blinding *big.Int
	if len(parts) == 2 {
		blinding, err = parseScalar(parts[1])
	} else {
		blinding, err = kernel.RandomScalar()
	}
	if err != nil {
		return kernel.Secret{}, err
	}
	return kernel.Secret{Owner: owner, Value: value, Blinding: blinding}, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("无效的票据金额: %s", s)
	}
	return v, nil
}

func parseScalar(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok || v.Sign() < 0 || v.Cmp(kernel.Order()) >= 0 {
		return nil, fmt.Errorf("无效的盲化因子: %s", s)
	}
	return v, nil
}
