package auth

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// 认证子系统返回的通用错误。
var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrInvalidAddress   = errors.New("invalid caller address")
	ErrInvalidTimestamp = errors.New("invalid request timestamp")
	ErrStaleRequest     = errors.New("request timestamp outside allowed skew")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// Mode 表示调用者身份的确认方式。
type Mode string

const (
	// ModeDisabled 直接信任 X-ACE-Address，仅用于开发环境。
	ModeDisabled Mode = "disabled"
	// ModeSignature 要求每个请求携带 EIP-191 签名。
	ModeSignature Mode = "signature"
)

// Config 配置身份认证服务。
type Config struct {
	Mode Mode
	// MaxSkew 为请求时间戳与服务器时钟允许的最大偏差。
	MaxSkew time.Duration
	// MaxBodyBytes 限制参与签名校验的请求体大小。
	MaxBodyBytes int64
}

// Subject 描述已确认身份的调用者。
type Subject struct {
	Address common.Address
	// Verified 为 false 表示地址未经签名确认（disabled 模式）。
	Verified bool
	// SignedAt 为请求声明的签名时间，disabled 模式下为零值。
	SignedAt time.Time
}
