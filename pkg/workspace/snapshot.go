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
package workspace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/teradata-labs/chorus/pkg/types"
)

// SnapshotFileName is the conventional snapshot file name inside a workspace
// directory.
const SnapshotFileName = "snapshot.ndjson"

// stateRecord is the trailing per-agent state line of a snapshot.
type stateRecord struct {
	Kind  string          `json:"kind"`
	Agent string          `json:"agent"`
	State json.RawMessage `json:"state"`
}

// WriteSnapshot emits the newline-delimited snapshot format: one JSON object
// per pending message in delivery order, then one state record per agent.
func WriteSnapshot(w io.Writer, pending []*types.Message, states map[string]json.RawMessage) error {
	enc := json.NewEncoder(w)
	for _, msg := range pending {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("encode message %s: %w", msg.ID, err)
		}
	}
	agents := make([]string, 0, len(states))
	for name := range states {
		agents = append(agents, name)
	}
	sort.Strings(agents)
	for _, name := range agents {
		rec := stateRecord{Kind: "state", Agent: name, State: states[name]}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode state for %s: %w", name, err)
		}
	}
	return nil
}

// ReadSnapshot parses a snapshot, returning the pending messages in order and
// the per-agent states.
func ReadSnapshot(r io.Reader) ([]*types.Message, map[string]json.RawMessage, error) {
	var pending []*types.Message
	states := make(map[string]json.RawMessage)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var probe struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		if probe.Kind == "state" {
			var rec stateRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			states[rec.Agent] = rec.State
			continue
		}
		var msg types.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		pending = append(pending, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	return pending, states, nil
}

// WriteSnapshotFile writes a snapshot atomically via a temp file rename.
func WriteSnapshotFile(path string, pending []*types.Message, states map[string]json.RawMessage) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := WriteSnapshot(f, pending, states); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadSnapshotFile reads a snapshot from disk.
func ReadSnapshotFile(path string) ([]*types.Message, map[string]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}
