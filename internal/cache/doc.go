// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，作为 handoff 上下文存储的
底层 KV 层。

# 概述

Manager 封装 go-redis 客户端，负责连接探测、键前缀、默认 TTL、
后台健康检查与优雅关闭。agent/contextstore.RedisStore 通过它
保存压缩后的交接上下文。

# 主要能力

  - 键值读写：GetBytes/SetBytes 以及 GetJSON/SetJSON。
  - 一次性读取：TakeBytes 使用 GETDEL，保证上下文只被领取一次。
  - 健康检查：后台定时 Ping，Close 时等待循环退出。
  - 错误语义：ErrCacheMiss / ErrClosed 哨兵错误，配合 errors.Is 使用。
*/
package cache
