// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handshake 实现 Agent 之间在任务交接前的能力握手协议。

# 状态机

	INITIAL → REQUESTED → {ACCEPTED | REJECTED} → COMPLETED
	任意非终态 → FAILED（超时或内部错误）

终态为 COMPLETED、REJECTED、FAILED。CanTransition 描述合法迁移。

# 发起方

InitiateHandshake 分配 handshakeID，先插入再检查并发上限（超限立即返回
capacity exceeded 错误），发布 handshake.request 并在超时内等待关联的
handshake.response。应答后会话进入 ACCEPTED 或 REJECTED 并移入历史，
同时发布 handshake.completed。超时时会话标记为 FAILED，返回 FAILED 结果
以及包装 types.ErrTimeoutWaiting 的错误。

# 应答方

HandleHandshakeRequest 依次执行：协议版本兼容检查（相同或主版本号相同）、
可插拔认证（默认 AllowAll，可选 JWTAuthenticator）、能力协商（默认 Echo，
可选 Intersect）、签发 session id。版本不兼容与认证失败均以
Accepted=false 返回，不产生错误。Listen 让应答方通过事件总线自动应答。
*/
package handshake
