// Copyright (c) RAGFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供工作流图的构建、校验与并发执行引擎。

# 概述

workflow 包实现了 RAGFlow 的 DAG 执行系统：节点声明依赖关系，引擎按
依赖序调度就绪节点，在有界并发下执行，失败沿非可选边级联跳过下游。
构图期完成全部静态校验（唯一 ID、依赖可解析、三色 DFS 环检测、单根
约束），执行期只处理运行时状态。

# 核心接口与类型

  - Graph / NodeSpec     — 不可变的已校验图与节点声明
  - Step / StepFunc      — 节点工作单元 Execute(ctx, input) (output, error)
  - RetrieveStep         — 检索节点（查询向量库并按预算装配上下文）
  - AssemblePromptStep   — 提示词组装节点（模板 + 检索结果 + 对话历史）
  - GenerateStep         — LLM 生成节点（可选缓存与调用合并）
  - Executor             — 调度器（就绪集计算、信号量并发控制、级联跳过）
  - Runner               — 单节点执行器（重试、退避抖动、单次尝试硬超时）
  - ExecutionContext     — 运行时状态表（写一次语义，终态不可覆盖）
  - RunResult            — 运行聚合结果（success / partial / failed）

# 执行语义

  - 节点就绪条件：全部依赖到达终态
  - 非可选依赖失败或被跳过 → 下游节点级联跳过（SKIPPED）
  - 可选依赖失败 → 下游仍执行，但至少需一个依赖成功产出
  - 运行级取消：在飞节点收到取消信号，未启动节点标记 CANCELLED 跳过
  - 重试只针对瞬时错误（TIMEOUT / RATE_LIMIT / NETWORK），终态错误立即失败
*/
package workflow
