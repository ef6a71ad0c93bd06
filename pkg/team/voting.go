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
	"sync"
	"time"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Voting decision strategies.
const (
	// VoteMajority accepts a proposal once it holds more than half of the
	// electorate's votes.
	VoteMajority = "majority"
	// VotePlurality accepts the proposal with the most votes once the
	// remaining votes cannot change the outcome.
	VotePlurality = "plurality"
	// VoteFirstCome accepts the first proposal; voting is disabled.
	VoteFirstCome = "first_come"
)

// DefaultProposalDuration is how long a proposal accepts votes.
const DefaultProposalDuration = 5 * time.Minute

// Voting is a service executor running team decisions over proposals. Each
// voter holds one vote; re-voting moves it. All state lives inside the
// service.
//
// Operations: propose {content, reasoning?, proposer}, vote {proposal, voter},
// proposal {proposal}, proposals {}, decision {}.
type Voting struct {
	mu         sync.Mutex
	strategy   string
	duration   time.Duration
	electorate int

	order []*proposal
	byID  map[string]*proposal
}

type proposal struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Reasoning string          `json:"reasoning,omitempty"`
	Proposer  string          `json:"proposer"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Status    string          `json:"status"`
	Votes     map[string]bool `json:"votes"`
}

// NewVoting creates a voting service. An empty strategy selects majority;
// electorate is the number of eligible voters, or 0 to derive it from the
// distinct voters seen.
func NewVoting(strategy string, electorate int) (*Voting, error) {
	switch strategy {
	case "":
		strategy = VoteMajority
	case VoteMajority, VotePlurality, VoteFirstCome:
	default:
		return nil, fmt.Errorf("unknown voting strategy: %s", strategy)
	}
	return &Voting{
		strategy:   strategy,
		duration:   DefaultProposalDuration,
		electorate: electorate,
		byID:       make(map[string]*proposal),
	}, nil
}

// Execute implements Executor.
func (v *Voting) Execute(_ context.Context, inv types.ToolInvocation) (json.RawMessage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expire()

	switch inv.Name {
	case "propose":
		content, _ := inv.Arguments["content"].(string)
		proposer, _ := inv.Arguments["proposer"].(string)
		reasoning, _ := inv.Arguments["reasoning"].(string)
		if content == "" || proposer == "" {
			return nil, fmt.Errorf("propose requires content and proposer")
		}
		now := time.Now()
		p := &proposal{
			ID:        fmt.Sprintf("proposal_%d", len(v.order)),
			Content:   content,
			Reasoning: reasoning,
			Proposer:  proposer,
			CreatedAt: now,
			ExpiresAt: now.Add(v.duration),
			Status:    "active",
			Votes:     make(map[string]bool),
		}
		// The proposer backs their own proposal, except under first-come
		// where the earliest proposal wins outright.
		if v.strategy != VoteFirstCome {
			v.moveVote(proposer, p)
		}
		v.order = append(v.order, p)
		v.byID[p.ID] = p
		return json.Marshal(map[string]any{"proposal_id": p.ID, "proposal": p})

	case "vote":
		id, _ := inv.Arguments["proposal"].(string)
		voter, _ := inv.Arguments["voter"].(string)
		if id == "" || voter == "" {
			return nil, fmt.Errorf("vote requires proposal and voter")
		}
		if v.strategy == VoteFirstCome {
			return nil, fmt.Errorf("voting is disabled under the first-come strategy")
		}
		p, ok := v.byID[id]
		if !ok {
			return nil, types.NewError(types.UnknownIdentifier, "unknown proposal: %s", id)
		}
		if p.Status != "active" {
			return nil, fmt.Errorf("proposal %s is %s", id, p.Status)
		}
		v.moveVote(voter, p)
		return json.Marshal(map[string]any{
			"proposal_id": p.ID,
			"voter":       voter,
			"results":     v.results(p),
		})

	case "proposal":
		id, _ := inv.Arguments["proposal"].(string)
		p, ok := v.byID[id]
		if !ok {
			return nil, types.NewError(types.UnknownIdentifier, "unknown proposal: %s", id)
		}
		return json.Marshal(map[string]any{"proposal": p, "results": v.results(p)})

	case "proposals":
		active := make([]*proposal, 0, len(v.order))
		for _, p := range v.order {
			if p.Status == "active" {
				active = append(active, p)
			}
		}
		return json.Marshal(active)

	case "decision":
		content, decided := v.decide()
		return json.Marshal(map[string]any{"decided": decided, "content": content})

	default:
		return nil, types.NewError(types.UnknownIdentifier, "unknown voting operation: %s", inv.Name)
	}
}

// moveVote removes the voter's existing vote and records one for p.
func (v *Voting) moveVote(voter string, p *proposal) {
	for _, other := range v.order {
		delete(other.Votes, voter)
	}
	p.Votes[voter] = true
}

// expire flips proposals past their deadline. Callers hold the lock.
func (v *Voting) expire() {
	now := time.Now()
	for _, p := range v.order {
		if p.Status == "active" && now.After(p.ExpiresAt) {
			p.Status = "expired"
		}
	}
}

// total returns the electorate size: the configured value, or the distinct
// voters seen so far.
func (v *Voting) total() int {
	if v.electorate > 0 {
		return v.electorate
	}
	voters := make(map[string]bool)
	for _, p := range v.order {
		for voter := range p.Votes {
			voters[voter] = true
		}
	}
	return len(voters)
}

func (v *Voting) results(p *proposal) map[string]any {
	out := map[string]any{
		"total_votes":    v.total(),
		"votes_in_favor": len(p.Votes),
	}
	switch v.strategy {
	case VoteMajority:
		out["has_majority"] = 2*len(p.Votes) > v.total()
	case VotePlurality:
		leading := true
		for _, other := range v.order {
			if other != p && other.Status == "active" && len(other.Votes) > len(p.Votes) {
				leading = false
				break
			}
		}
		out["is_leading"] = leading
	}
	return out
}

// decide evaluates the strategy over the active proposals. Callers hold the
// lock.
func (v *Voting) decide() (string, bool) {
	var active []*proposal
	for _, p := range v.order {
		if p.Status == "active" {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return "", false
	}

	switch v.strategy {
	case VoteFirstCome:
		return active[0].Content, true

	case VotePlurality:
		winner := active[0]
		for _, p := range active[1:] {
			if len(p.Votes) > len(winner.Votes) {
				winner = p
			}
		}
		// Undecided while outstanding votes could still flip the lead.
		remaining := v.total() - len(winner.Votes)
		for _, p := range active {
			if p != winner && len(winner.Votes)-len(p.Votes) <= remaining {
				return "", false
			}
		}
		return winner.Content, true

	default: // majority
		for _, p := range active {
			if 2*len(p.Votes) > v.total() {
				return p.Content, true
			}
		}
		return "", false
	}
}
