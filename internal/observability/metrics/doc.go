// Package metrics 以 Prometheus 格式暴露 HTTP 请求、证明校验与注册表更新的指标。
package metrics
