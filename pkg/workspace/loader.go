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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema validates the shape of a workspace definition before it is
// decoded. Semantic checks (name uniqueness, member resolution) happen in
// Definition.Validate.
const definitionSchema = `{
  "type": "object",
  "required": ["title", "agents"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "main_channel": {"type": "string"},
    "start_messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "content"],
        "properties": {
          "source": {"type": "string", "minLength": 1},
          "destination": {"type": "string"},
          "channel": {"type": "string"},
          "content": {"type": "string"},
          "metadata": {"type": "object"}
        }
      }
    },
    "stop_conditions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "enum": ["no_activity", "message_count", "human_signal", "message_match"]},
          "parameters": {"type": "object"}
        }
      }
    },
    "agents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "name"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "enum": ["", "active", "passive"]},
          "instruction": {"type": "string"},
          "tools": {"type": "array", "items": {"type": "string"}},
          "model_name": {"type": "string"},
          "reachable_agents": {"type": "array", "items": {"type": "string"}},
          "planner": {"type": "string"}
        }
      }
    },
    "teams": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "agents"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "agents": {"type": "array", "minItems": 1, "items": {"type": "string"}},
          "collaboration": {
            "type": "object",
            "properties": {
              "type": {"type": "string", "enum": ["", "centralized", "decentralized"]},
              "coordinator": {"type": "string"}
            }
          },
          "services": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "channels": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "members"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "members": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

// LoadDefinition reads, schema-validates and decodes a workspace definition
// from a JSON or YAML file.
func LoadDefinition(path string) (*Definition, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read workspace definition %s: %w", path, err)
	}

	if err := validateDefinition(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("workspace definition %s: %w", path, err)
	}

	var def Definition
	if err := v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("decode workspace definition %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("workspace definition %s: %w", path, err)
	}
	return &def, nil
}

// validateDefinition checks the decoded document against the schema.
func validateDefinition(settings map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	docLoader := gojsonschema.NewGoLoader(settings)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			problems[i] = desc.String()
		}
		return fmt.Errorf("invalid definition: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FindDefinition locates the definition file for a workspace name under a
// root directory, trying <root>/<name>.<ext> and <root>/<name>/workspace.<ext>
// for the supported extensions.
func FindDefinition(root, name string) (string, error) {
	exts := []string{"json", "yaml", "yml"}
	for _, ext := range exts {
		candidates := []string{
			filepath.Join(root, name+"."+ext),
			filepath.Join(root, name, "workspace."+ext),
		}
		for _, path := range candidates {
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("no workspace definition for %q under %s", name, root)
}

// ListDefinitions returns the workspace names with a definition file directly
// under root.
func ListDefinitions(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read workspace root %s: %w", root, err)
	}
	var names []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			if _, err := FindDefinition(root, e.Name()); err == nil && !seen[e.Name()] {
				names = append(names, e.Name())
				seen[e.Name()] = true
			}
			continue
		}
		ext := filepath.Ext(e.Name())
		switch ext {
		case ".json", ".yaml", ".yml":
			name := strings.TrimSuffix(e.Name(), ext)
			if !seen[name] {
				names = append(names, name)
				seen[name] = true
			}
		}
	}
	return names, nil
}
