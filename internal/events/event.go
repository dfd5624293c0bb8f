package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind 标识事件类型。
type Kind string

const (
	KindProofValidated  Kind = "proof.validated"
	KindProofCleared    Kind = "proof.cleared"
	KindValidatorSet    Kind = "validator.set"
	KindCRSSet          Kind = "crs.set"
	KindRegistryCreated Kind = "registry.created"
	KindRegistryApprove Kind = "registry.approved"
	KindRegistryUpdated Kind = "registry.updated"
)

// Event 是广播给下游的消息体。
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Actor      string            `json:"actor"`
	ProofType  uint32            `json:"proof_type,omitempty"`
	ProofHash  string            `json:"proof_hash,omitempty"`
	Registry   string            `json:"registry,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 创建带随机 ID 的事件。
func New(kind Kind, actor common.Address) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Actor:      actor.Hex(),
		OccurredAt: time.Now().UTC(),
	}
}

// With 追加一个属性并返回事件本身，便于链式构造。
func (e Event) With(key, value string) Event {
	attrs := make(map[string]string, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

// Encode 序列化事件。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 解析事件。
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	if e.ID == "" || e.Kind == "" {
		return Event{}, fmt.Errorf("事件缺少 id 或 kind")
	}
	return e, nil
}

// Handler 处理一条事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Subscriber 负责消费事件，直到 ctx 结束或出现不可恢复的错误。
type Subscriber interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Noop 丢弃所有事件。
type Noop struct{}

// Publish 实现 Publisher。
func (Noop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Noop) Close() error { return nil }
