// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 worker 管理本地推理后端上的 worker agent。

Worker 绑定一种后端类型与模型：chat 后端接收角色消息列表，prompt 后端
接收单个提示词。Invoker 屏蔽两者差异，调用方只传入提示词文本。

Registry 按注册顺序保存 worker，并为每种后端类型登记一个 Backend。
Alternate 返回后端类型不同且可用的第一个其他 worker，用于本地交接失败后
的单次回退；实现 Prober 的后端会被探活，同一类型的并发探活经
singleflight 合并。

HTTPBackend 对接 OpenAI 兼容的本地推理服务。
*/
package worker
