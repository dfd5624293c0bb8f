// Package events 在状态提交之后对外广播引擎事件，支持内存、Redis 列表与 RabbitMQ 队列。
// 发布失败只记录日志，不影响已经提交的状态。
package events
