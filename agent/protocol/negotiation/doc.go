// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 negotiation 在已接受的握手之上进行任务协商与状态同步。

# 发起方

NegotiateTask 与 SyncState 先校验握手处于 ACCEPTED，否则直接返回
"Handshake not found or not accepted"，不发布任何事件。随后：

 1. 注册关联等待（先订阅后发布），发布 negotiation.request / sync.request
 2. 若工具通道支持对应操作，按 HandoffConfig 的重试参数调用；
    重试耗尽记录警告并回退到事件路径
 3. 等待对端 *.response；超时后按 Heuristics 合成默认应答
 4. 发布 negotiation.completed / sync.completed，载荷为最终应答

默认协商应答：延迟估计 min(100 + 0.1 × len(description), 1000) 毫秒，
是否接受取决于描述与对端能力的大小写无关子串匹配（无能力信息时接受）。
默认同步应答：增量同步在 500ms 内无应答即乐观确认；全量同步仅在状态为
结构化对象时确认。

# 应答方

Listen 订阅发往本 Agent 的请求。HandleNegotiationRequest 交给 Acceptor
决定；HandleSyncRequest 维护每个握手的共享状态，全量替换、增量合并。
ToolOperations 将应答方暴露为工具通道操作，可经 toolchannel.NewServer
以 MCP 提供服务。
*/
package negotiation
