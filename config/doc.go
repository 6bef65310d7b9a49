// Package config 提供 swarmhandoff 的配置管理功能。
//
// HandoffConfig 描述协议层策略（阈值、重试、熔断、资源上限），
// 由 Manager 统一校验、替换并通知订阅者；支持三种内置预设、
// HANDOFF_ 前缀的环境变量覆盖以及 YAML / TOML / JSON 文件热重载。
// Config 是 CLI 进程的完整配置，由 Loader 按
// 默认值 → 配置文件 → SWARM_ 环境变量 的顺序加载。
package config
