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
package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Spec is the declarative description of one agent. The engine is agnostic to
// Type values: it resolves them through a Registry provided by the embedding
// program.
type Spec struct {
	Type            string            `json:"type" mapstructure:"type"`
	Name            string            `json:"name" mapstructure:"name"`
	Kind            string            `json:"kind,omitempty" mapstructure:"kind"`
	Instruction     string            `json:"instruction,omitempty" mapstructure:"instruction"`
	Tools           []string          `json:"tools,omitempty" mapstructure:"tools"`
	ModelName       string            `json:"model_name,omitempty" mapstructure:"model_name"`
	ReachableAgents []string          `json:"reachable_agents,omitempty" mapstructure:"reachable_agents"`
	Planner         string            `json:"planner,omitempty" mapstructure:"planner"`
	IterateInterval time.Duration     `json:"iterate_interval,omitempty" mapstructure:"iterate_interval"`
	Options         map[string]string `json:"options,omitempty" mapstructure:"options"`
}

// Factory builds an agent implementation from its spec.
type Factory func(spec Spec) (Agent, Kind, error)

// Registry maps agent type names to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a type name to a factory. Re-registering a name replaces the
// previous factory.
func (r *Registry) Register(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

// Build constructs an agent from a spec.
func (r *Registry) Build(spec Spec) (Agent, Kind, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, KindPassive, fmt.Errorf("unknown agent type: %q", spec.Type)
	}
	return factory(spec)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
