// Copyright (c) RAGFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 RAGFlow 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 workflow、rag、llm、
prompt 等上层模块提供统一的错误契约。所有跨包共享的错误码和结构化错误
类型均定义于此，以避免循环依赖。

# 错误分类

  - VALIDATION / CYCLE_DETECTED — 构图期错误，执行开始前抛出，永不重试
  - TIMEOUT / RATE_LIMIT / NETWORK — 瞬时错误，按节点重试策略重试
  - ADAPTER — 提供者侧终态错误（响应格式错误、未授权等）
  - BUDGET_EXCEEDED — Prompt 组装在最大截断后仍超出 token 预算
  - CANCELLED / SKIPPED — 运行级取消与依赖级联跳过
*/
package types
