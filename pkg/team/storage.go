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

// Storage is a service executor exposing a shared key/value store to the
// team's members.
//
// Operations: put {key, value}, get {key}, delete {key}, list {}.
type Storage struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewStorage creates an empty store.
func NewStorage() *Storage {
	return &Storage{values: make(map[string]json.RawMessage)}
}

// Execute implements Executor.
func (s *Storage) Execute(_ context.Context, inv types.ToolInvocation) (json.RawMessage, error) {
	key, _ := inv.Arguments["key"].(string)
	switch inv.Name {
	case "put":
		if key == "" {
			return nil, fmt.Errorf("put requires a key")
		}
		value, err := json.Marshal(inv.Arguments["value"])
		if err != nil {
			return nil, fmt.Errorf("put %s: %w", key, err)
		}
		s.mu.Lock()
		s.values[key] = value
		s.mu.Unlock()
		return json.Marshal(map[string]bool{"stored": true})
	case "get":
		if key == "" {
			return nil, fmt.Errorf("get requires a key")
		}
		s.mu.RLock()
		value, ok := s.values[key]
		s.mu.RUnlock()
		if !ok {
			return nil, types.NewError(types.UnknownIdentifier, "unknown key: %s", key)
		}
		return value, nil
	case "delete":
		if key == "" {
			return nil, fmt.Errorf("delete requires a key")
		}
		s.mu.Lock()
		_, ok := s.values[key]
		delete(s.values, key)
		s.mu.Unlock()
		return json.Marshal(map[string]bool{"deleted": ok})
	case "list":
		s.mu.RLock()
		keys := make([]string, 0, len(s.values))
		for k := range s.values {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
		sort.Strings(keys)
		return json.Marshal(keys)
	default:
		return nil, types.NewError(types.UnknownIdentifier, "unknown storage operation: %s", inv.Name)
	}
}
