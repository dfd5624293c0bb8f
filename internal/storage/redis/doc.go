// Package redis 构建共享的 Redis 客户端，供校验缓存与事件队列复用同一套连接参数。
package redis
