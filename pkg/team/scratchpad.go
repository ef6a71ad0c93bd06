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

// Scratchpad is a service executor holding shared notes keyed by topic.
// Members append and read; all state lives inside the service.
//
// Operations: append {topic, note}, read {topic}, topics {}.
type Scratchpad struct {
	mu    sync.RWMutex
	notes map[string][]string
}

// NewScratchpad creates an empty scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{notes: make(map[string][]string)}
}

// Execute implements Executor.
func (s *Scratchpad) Execute(_ context.Context, inv types.ToolInvocation) (json.RawMessage, error) {
	switch inv.Name {
	case "append":
		topic, _ := inv.Arguments["topic"].(string)
		note, _ := inv.Arguments["note"].(string)
		if topic == "" || note == "" {
			return nil, fmt.Errorf("append requires topic and note")
		}
		s.mu.Lock()
		s.notes[topic] = append(s.notes[topic], note)
		n := len(s.notes[topic])
		s.mu.Unlock()
		return json.Marshal(map[string]int{"count": n})
	case "read":
		topic, _ := inv.Arguments["topic"].(string)
		if topic == "" {
			return nil, fmt.Errorf("read requires a topic")
		}
		s.mu.RLock()
		notes := append([]string(nil), s.notes[topic]...)
		s.mu.RUnlock()
		return json.Marshal(notes)
	case "topics":
		s.mu.RLock()
		topics := make([]string, 0, len(s.notes))
		for t := range s.notes {
			topics = append(topics, t)
		}
		s.mu.RUnlock()
		sort.Strings(topics)
		return json.Marshal(topics)
	default:
		return nil, types.NewError(types.UnknownIdentifier, "unknown scratchpad operation: %s", inv.Name)
	}
}
