package auth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"OpenACE-Chain/pkg/logger"
	"OpenACE-Chain/pkg/signing"
)

const (
	defaultMaxSkew      = 5 * time.Minute
	defaultMaxBodyBytes = 4 << 20
)

// Service 负责确认 HTTP 请求的调用者地址。
type Service struct {
	mode         Mode
	maxSkew      time.Duration
	maxBodyBytes int64
	now          func() time.Time
	audit        *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeSignature
	}
	switch mode {
	case ModeDisabled, ModeSignature:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	svc := &Service{
		mode:         mode,
		maxSkew:      cfg.MaxSkew,
		maxBodyBytes: cfg.MaxBodyBytes,
		now:          time.Now,
		audit:        logger.Audit(),
	}
	if svc.maxSkew <= 0 {
		svc.maxSkew = defaultMaxSkew
	}
	if svc.maxBodyBytes <= 0 {
		svc.maxBodyBytes = defaultMaxBodyBytes
	}
	if mode == ModeDisabled {
		svc.audit.Warn("auth_disabled", slog.String("detail", "caller addresses are trusted without signatures"))
	}
	return svc, nil
}

// WithClock 替换服务使用的时钟，主要用于测试。
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 根据签名头确认调用者。请求体会被读取并重新放回 r.Body。
// 未携带 X-ACE-Address 时返回 ErrMissingSignature。
func (s *Service) AuthenticateRequest(r *http.Request) (*Subject, error) {
	rawAddress := strings.TrimSpace(r.Header.Get(signing.HeaderAddress))
	if rawAddress == "" {
		return nil, ErrMissingSignature
	}
	if !common.IsHexAddress(rawAddress) {
		return nil, ErrInvalidAddress
	}
	address := common.HexToAddress(rawAddress)
	if s.mode == ModeDisabled {
		return &Subject{Address: address}, nil
	}

	sig := strings.TrimSpace(r.Header.Get(signing.HeaderSignature))
	rawTS := strings.TrimSpace(r.Header.Get(signing.HeaderTimestamp))
	if sig == "" || rawTS == "" {
		return nil, ErrMissingSignature
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return nil, ErrInvalidTimestamp
	}
	signedAt := time.Unix(ts, 0)
	if skew := s.now().Sub(signedAt); skew > s.maxSkew || skew < -s.maxSkew {
		return nil, ErrStaleRequest
	}

	body, err := s.readBody(r)
	if err != nil {
		return nil, err
	}
	if err := signing.Verify(address, r.Method, r.URL.Path, ts, body, sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &Subject{Address: address, Verified: true, SignedAt: signedAt}, nil
}

func (s *Service) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > s.maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// statusOf 把认证错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidTimestamp):
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}
