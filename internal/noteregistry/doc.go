// Package noteregistry 维护每个注册表的票据集合、公开授权与已应用证明，
// 并在证明被应用时驱动关联代币的转入、转出与增发。
//
// 同一注册表上的更新在进程内串行执行，存储层另以事务保证原子性：
// 票据状态、授权余额与供应量要么全部生效，要么全部回滚。
// 代币转账总是放在事务的最后一步。
package noteregistry
