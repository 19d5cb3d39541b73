// Copyright (c) RAGFlow Authors.
// Licensed under the MIT License.

/*
Package cache 提供内容寻址的 get-or-compute 缓存层。

# 概述

缓存键是对规范化请求输入（模型标识、规范化文本、参数集）的确定性指纹。
核心契约：同一键同一时刻至多一次底层计算——并发的相同请求合并到一次
进行中的计算上，共享其结果或传播同一个错误；失败的计算立即淘汰键，
后续调用可以重试。

# 核心接口与类型

  - Store     — 键值存储适配接口（Get / Set / Delete），内置内存 LRU 与 Redis 两种实现
  - Cache     — 缓存层（GetOrCompute / Invalidate），支持单次调用绕过
  - Entry     — 不可变缓存条目（值、创建时间、TTL），过期即淘汰
  - Fingerprint / EmbeddingKey / GenerationKey — 确定性缓存键
*/
package cache
