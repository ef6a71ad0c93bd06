// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package team

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Toolbox operation names.
const (
	OpExecuteTool = "execute_tool"
	OpListTools   = "list_tools"
)

// ExecutableTool is one named tool a toolbox can run.
type ExecutableTool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]any) (json.RawMessage, error)
}

// ToolFunc builds an ExecutableTool from a function.
func ToolFunc(name, description string, fn func(ctx context.Context, args map[string]any) (json.RawMessage, error)) ExecutableTool {
	return &funcTool{name: name, description: description, fn: fn}
}

type funcTool struct {
	name        string
	description string
	fn          func(ctx context.Context, args map[string]any) (json.RawMessage, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }
func (t *funcTool) Execute(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	return t.fn(ctx, args)
}

// ToolInfo describes one tool in a list_tools result.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Toolbox is a service executor dispatching invocations to named tools. An
// invocation either names a tool directly, or uses the execute_tool /
// list_tools operations.
type Toolbox struct {
	mu    sync.RWMutex
	tools map[string]ExecutableTool
}

// NewToolbox creates a toolbox with the given tools.
func NewToolbox(tools ...ExecutableTool) *Toolbox {
	tb := &Toolbox{tools: make(map[string]ExecutableTool, len(tools))}
	for _, t := range tools {
		tb.tools[t.Name()] = t
	}
	return tb
}

// Add registers a tool, replacing any tool with the same name.
func (tb *Toolbox) Add(t ExecutableTool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tools[t.Name()] = t
}

// Execute implements Executor.
func (tb *Toolbox) Execute(ctx context.Context, inv types.ToolInvocation) (json.RawMessage, error) {
	switch inv.Name {
	case OpListTools:
		return tb.list()
	case OpExecuteTool:
		name, _ := inv.Arguments["tool"].(string)
		if name == "" {
			return nil, fmt.Errorf("execute_tool requires a %q argument", "tool")
		}
		args, _ := inv.Arguments["arguments"].(map[string]any)
		return tb.run(ctx, name, args)
	default:
		return tb.run(ctx, inv.Name, inv.Arguments)
	}
}

func (tb *Toolbox) run(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	tb.mu.RLock()
	tool, ok := tb.tools[name]
	tb.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.UnknownIdentifier, "unknown tool: %s", name)
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}

func (tb *Toolbox) list() (json.RawMessage, error) {
	tb.mu.RLock()
	infos := make([]ToolInfo, 0, len(tb.tools))
	for _, t := range tb.tools {
		infos = append(infos, ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	tb.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return json.Marshal(infos)
}
