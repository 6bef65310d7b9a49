// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 swarmhandoff 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 handshake、negotiation、
handoff 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Agent / Task:      蜂群成员与被交接的任务（Context 对本层不透明）
  - Locality:          Local{Backend} / Remote 标签联合
  - Error / ErrorCode: 结构化错误体系（CONFIG_VALIDATION、PROTOCOL、
    CORRELATION_TIMEOUT、EXECUTION、HOOK、CAPACITY 等）

# 错误工具链

  - GetErrorCode / IsErrorCode / IsRetryable
  - NewCapacityError / NewTimeoutError
  - 哨兵错误：ErrCapacityExceeded、ErrTimeoutWaiting、ErrHandshakeNotAccepted
*/
package types
