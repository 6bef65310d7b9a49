// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package events 提供 handoff 协议层使用的异步发布/订阅通道。

# 概述

握手、协商、状态同步都是"发布请求事件 → 等待相关联的响应事件"的
模式。SimpleBus 是进程内实现：单个分发协程按类型快照处理器，
每个处理器在独立协程中执行，panic 会被捕获并记录。

# 跨进程

Bridge 通过 websocket 在两个进程的总线之间转发指定类型的事件。
事件不会回传给来源连接，重复 ID 会被丢弃，因此环形拓扑也能终止。
远端事件的 Payload 以原始 JSON 到达，使用 Decode[T] 解码。
*/
package events
