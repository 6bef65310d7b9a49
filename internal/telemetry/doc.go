// 版权所有 2024 AgentFlow Authors. 版权所有。

/*
Package telemetry 负责 OpenTelemetry SDK 的安装与 span 工具。

Init 在启用时创建 OTLP gRPC trace/metric 导出器，并用 WithAgent 把节点身份
写入资源属性；禁用时全局 provider 保持 noop，不连接 collector。

握手与 handoff 执行器通过 StartSpan / EndSpan 打点，HTTP 中间件直接使用
全局 tracer。
*/
package telemetry
