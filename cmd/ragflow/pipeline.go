package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/ragflow/workflow"
)

// PipelineDef 是管线定义文件的顶层结构。节点通过 workflow.NodeSpec
// 的 yaml 标签直接反序列化，可执行步骤由调用方按节点 ID 注入。
type PipelineDef struct {
	Name   string              `yaml:"name"`
	Inputs map[string]any      `yaml:"inputs,omitempty"`
	Nodes  []workflow.NodeSpec `yaml:"nodes"`

	// AllowMultipleRoots 允许管线声明多个零依赖的根节点。
	AllowMultipleRoots bool `yaml:"allow_multiple_roots,omitempty"`
}

// LoadPipeline 读取并解析管线定义文件。
func LoadPipeline(path string) (*PipelineDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}

	var def PipelineDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = path
	}
	return &def, nil
}

// Build 为每个节点注入步骤实现并构建已校验的图。
func (d *PipelineDef) Build(step func(id string) workflow.Step) (*workflow.Graph, error) {
	specs := make([]workflow.NodeSpec, len(d.Nodes))
	copy(specs, d.Nodes)
	for i := range specs {
		specs[i].Step = step(specs[i].ID)
	}

	var opts []workflow.GraphOption
	if d.AllowMultipleRoots {
		opts = append(opts, workflow.WithMultipleRoots())
	}
	return workflow.NewGraph(specs, opts...)
}
