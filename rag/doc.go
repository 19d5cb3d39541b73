// Copyright (c) RAGFlow Authors.
// Licensed under the MIT License.

/*
Package rag 提供检索管线：把一个查询变成有序、去重、受预算约束的上下文集合。

# 概述

管线阶段：查询向量化（经内容寻址缓存）→ 向量近邻查询 → 相似度阈值过滤
→ 可选重排序 → 按（文档，偏移区间）身份去重（保留最高分）→ 按分数降序
贪心累积直到 token 预算。结果保证三个不变式：分数非递增、无重复身份、
总 token 数不超过预算。

# 核心接口与类型

  - Chunk / RetrievalResult — 检索数据模型
  - VectorStore — 向量数据库适配接口（Upsert / Query / Delete），内置内存实现
  - Reranker — 重排序器接口（内置词重叠实现）
  - Retriever — 检索管线本体
*/
package rag
