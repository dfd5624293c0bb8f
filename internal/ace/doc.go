// Package ace 是引擎的调度层：按证明类型找到验证器完成校验，把校验结果写入缓存，
// 再把证明输出应用到调用方的票据注册表。所有对外入口（HTTP、CLI）都经由 Engine。
package ace
