// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 swarmhandoff 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 事件总线: NewBus 与 EventRecorder，用于断言某类事件是否被发布
  - 异步断言: AssertEventuallyTrue / AssertNeverTrue / WaitForChannel
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: 可编排的本地后端（ScriptedBackend）与上下文交接
    协作者（ScriptedStore），支持按调用次数注入错误
*/
package testutil
