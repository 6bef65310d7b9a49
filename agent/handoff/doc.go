// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handoff 负责在蜂群内把任务及其上下文移交给另一个 Agent。

# 概述

Executor 是交接的执行端：目标是本地 worker 时直接调用其后端，否则通过
Collaborator 两步交接（InitiateHandoff 暂存上下文，CompleteHandoff 取回）。
每一步都在 runWithRetry 下执行，远端目标另有按目标划分的熔断器。

# 失败处理

  - 本地后端失败时，最多切换一次到不同后端类型的可用 worker
  - 主路径失败且 FallbackStrategy 为 least_loaded 时，向负载最低的其他
    Agent 级联一次
  - 仍失败则返回 "handoff failed: ..." 并触发 OnError 钩子

# 阈值与统计

ShouldHandoff 与 CheckLatencyThresholds 是纯函数。延迟超标只记录日志、
发布 handoff.latency_alert 事件并计数，不会中断交接。GetMetrics 返回
尝试/成功/失败次数与最近 100 次延迟。

# 协调

Coordinator 按 evaluate、threshold、handshake、negotiate、sync、handoff
的顺序串行执行，任一阶段拒绝时在 Outcome 中给出停止的阶段与原因。
*/
package handoff
