// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的 handoff 协议层指标采集。

# 概述

Collector 通过 promauto.With 在调用方提供的 Registerer 上注册指标，
nil Registerer 时使用独立 Registry，便于测试隔离。nil *Collector
的所有方法都是空操作，协议组件无需判断是否启用指标。

# 主要能力

  - Handoff 指标：按 path/status 计数与耗时直方图、在途数 Gauge、
    回退尝试（local_backend / least_loaded）、延迟越界（target / max）。
  - 协议指标：握手结束状态、协商与状态同步结果，按解析路径
    （tool / event / default）分组。
  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
