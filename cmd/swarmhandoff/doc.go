// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 swarmhandoff 节点程序入口。

# 概述

cmd/swarmhandoff 是交接协议的组合根：把事件总线、Agent 目录、握手协议、
协商中介、上下文存储和交接执行器装配成一个 Node，并通过 HTTP 暴露。
核心包不依赖本目录。

# 子命令

  - serve   启动节点：握手与协商监听、/ws 事件桥、/mcp 工具通道、
    /metrics、/health 以及 /api/v1 管理接口
  - demo    进程内两个 Agent 共享一条总线，跑完整的协调交接并输出 JSON 报告
  - config  show / validate / health，检查进程配置与交接策略
  - health  探测运行中节点
  - version 构建信息（Version、BuildTime、GitCommit 通过 ldflags 注入）

# 中间件链

Recovery、RequestID、SecurityHeaders、RequestLogger、MetricsMiddleware、
OTelTracing，可选 RateLimiter（按 IP），配置了共享密钥时 /api/ 需要 JWT。
包装的 ResponseWriter 实现 Unwrap，保证 /ws 升级可用。

# 配置热重载

--handoff-config 指定的策略文件由 config.Manager.Watch 轮询，变更经校验后
生效，并通过 OnChange 同步到握手与协商组件。
*/
package main
