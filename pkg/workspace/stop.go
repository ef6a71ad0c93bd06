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
	"regexp"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Stop condition type names, as they appear in workspace configuration.
const (
	StopNoActivity   = "no_activity"
	StopMessageCount = "message_count"
	StopHumanSignal  = "human_signal"
	StopMessageMatch = "message_match"
)

// MetaStop marks a sentinel message from the human principal requesting
// shutdown.
const MetaStop = "stop"

// StopCondition is a predicate over observed system activity. Observe is
// called for every routed message; Met is polled by the evaluator after
// deliveries and steps.
type StopCondition interface {
	// Observe inspects one routed message. Must not block.
	Observe(msg *types.Message)

	// Met reports whether the condition holds given the total routed count
	// and the time of the last activity.
	Met(routed int64, lastActivity time.Time) bool

	// Description names the condition for logs.
	Description() string
}

// StopSpec is the declarative form of one stop condition.
type StopSpec struct {
	Type       string         `json:"type" mapstructure:"type"`
	Parameters map[string]any `json:"parameters,omitempty" mapstructure:"parameters"`
}

// NewStopCondition builds a condition from its declarative spec.
func NewStopCondition(spec StopSpec) (StopCondition, error) {
	switch spec.Type {
	case StopNoActivity:
		window, err := durationParam(spec.Parameters, "window_ms")
		if err != nil {
			return nil, fmt.Errorf("no_activity: %w", err)
		}
		return NoActivity(window), nil
	case StopMessageCount:
		count, ok := intParam(spec.Parameters, "count")
		if !ok || count <= 0 {
			return nil, fmt.Errorf("message_count requires a positive count")
		}
		return MessageCountReached(count), nil
	case StopHumanSignal:
		return HumanSignal(), nil
	case StopMessageMatch:
		return newMessageMatch(spec.Parameters)
	default:
		return nil, fmt.Errorf("unsupported stop condition: %q", spec.Type)
	}
}

func durationParam(params map[string]any, key string) (time.Duration, error) {
	ms, ok := intParam(params, key)
	if !ok || ms <= 0 {
		return 0, fmt.Errorf("requires a positive %s", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intParam(params map[string]any, key string) (int64, bool) {
	switch v := params[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

type noActivity struct {
	window time.Duration
}

// NoActivity holds once no message has been routed and no step has executed
// for the given window.
func NoActivity(window time.Duration) StopCondition {
	return &noActivity{window: window}
}

func (c *noActivity) Observe(*types.Message) {}

func (c *noActivity) Met(_ int64, lastActivity time.Time) bool {
	return time.Since(lastActivity) >= c.window
}

func (c *noActivity) Description() string {
	return fmt.Sprintf("no activity for %s", c.window)
}

type messageCount struct {
	n int64
}

// MessageCountReached holds once the total routed message count reaches n.
func MessageCountReached(n int64) StopCondition {
	return &messageCount{n: n}
}

func (c *messageCount) Observe(*types.Message) {}

func (c *messageCount) Met(routed int64, _ time.Time) bool {
	return routed >= c.n
}

func (c *messageCount) Description() string {
	return fmt.Sprintf("message count reached %d", c.n)
}

type humanSignal struct {
	fired atomic.Bool
}

// HumanSignal holds once a sentinel message from the human principal with
// metadata stop=true has been routed.
func HumanSignal() StopCondition {
	return &humanSignal{}
}

func (c *humanSignal) Observe(msg *types.Message) {
	if msg.Source == types.User && msg.Metadata[MetaStop] == "true" {
		c.fired.Store(true)
	}
}

func (c *humanSignal) Met(int64, time.Time) bool { return c.fired.Load() }

func (c *humanSignal) Description() string { return "human stop signal" }

type messageMatch struct {
	source      *regexp.Regexp
	destination *regexp.Regexp
	channel     *regexp.Regexp
	content     *regexp.Regexp
	fired       atomic.Bool
}

// MessageMatch holds once a routed message matches every configured pattern.
// Patterns are anchored regular expressions over source, destination, channel
// and content; absent patterns match anything.
func MessageMatch(source, destination, channel, content string) (StopCondition, error) {
	c := &messageMatch{}
	for _, p := range []struct {
		expr string
		dst  **regexp.Regexp
	}{
		{source, &c.source},
		{destination, &c.destination},
		{channel, &c.channel},
		{content, &c.content},
	} {
		if p.expr == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + p.expr + ")$")
		if err != nil {
			return nil, fmt.Errorf("message_match pattern %q: %w", p.expr, err)
		}
		*p.dst = re
	}
	if c.source == nil && c.destination == nil && c.channel == nil && c.content == nil {
		return nil, fmt.Errorf("message_match requires at least one pattern")
	}
	return c, nil
}

func newMessageMatch(params map[string]any) (StopCondition, error) {
	str := func(key string) string {
		s, _ := params[key].(string)
		return s
	}
	return MessageMatch(str("source"), str("destination"), str("channel"), str("content"))
}

func (c *messageMatch) Observe(msg *types.Message) {
	if c.source != nil && !c.source.MatchString(msg.Source) {
		return
	}
	if c.destination != nil && !c.destination.MatchString(msg.Destination) {
		return
	}
	if c.channel != nil && !c.channel.MatchString(msg.Channel) {
		return
	}
	if c.content != nil && !c.content.MatchString(msg.Content) {
		return
	}
	c.fired.Store(true)
}

func (c *messageMatch) Met(int64, time.Time) bool { return c.fired.Load() }

func (c *messageMatch) Description() string { return "message match" }

// evaluator combines stop conditions disjunctively.
type evaluator struct {
	conditions []StopCondition
}

func (e *evaluator) observe(msg *types.Message) {
	for _, c := range e.conditions {
		c.Observe(msg)
	}
}

// met returns the first condition that holds, or nil.
func (e *evaluator) met(routed int64, lastActivity time.Time) StopCondition {
	for _, c := range e.conditions {
		if c.Met(routed, lastActivity) {
			return c
		}
	}
	return nil
}
