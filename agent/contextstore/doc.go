// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 contextstore 提供交接上下文的两步传递：发起方 InitiateHandoff 将任务
上下文以 JSON + gzip 压缩后暂存，目标 Agent 通过 CompleteHandoff 取回。

  - 取回时校验目标 Agent，不匹配返回错误且保留暂存内容
  - 取回成功后立即删除，只能完成一次
  - 保留时间取 TTL 与请求截止时间中较早者

MemoryStore 用于单进程；RedisStore 基于 internal/cache.Manager，
以 GETDEL 保证跨进程的单次取回。
*/
package contextstore
