// Package mysql 提供 MySQL 连接池构建与内嵌 SQL 迁移的执行。
// 具体仓储由各业务包基于返回的 *sql.DB 实现。
package mysql
