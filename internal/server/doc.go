// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 承载 swarmhandoff 节点的 HTTP 面：/api/v1 管理接口、/ws 事件桥、
/mcp 工具通道、/metrics 与 /health。

Start 非阻塞监听，配置了证书时使用 tlsutil.ServerTLSConfig 走 HTTPS。
处理器拿到的 BaseContext 在 Shutdown 开始时即被取消，因此桥接 websocket 与
流式工具会话会主动退出，不会把优雅关闭拖到超时。WaitForShutdown 监听
SIGINT/SIGTERM、ctx 取消与异步服务错误。
*/
package server
