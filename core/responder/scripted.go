package responder

import (
	"context"
	"strings"
	"sync"
)

const defaultResponderID = "tutor.general"

// Rule maps an input fragment to a canned decision.
type Rule struct {
	// Match is a case-insensitive substring of the student's text.
	Match    string
	Decision Decision
}

// Scripted is a deterministic Responder backed by a rule table. It drives the
// daemon's offline mode and every test that needs predictable turn content.
type Scripted struct {
	mu sync.Mutex

	rules    []Rule
	fallback Decision
	greeting Decision

	// Err, when set, makes every call fail.
	Err error

	requests []Request
}

type ScriptedOption func(*Scripted)

func WithRules(rules ...Rule) ScriptedOption {
	return func(s *Scripted) {
		s.rules = append(s.rules, rules...)
	}
}

func WithFallback(decision Decision) ScriptedOption {
	return func(s *Scripted) {
		s.fallback = decision
	}
}

func WithGreeting(decision Decision) ScriptedOption {
	return func(s *Scripted) {
		s.greeting = decision
	}
}

func NewScripted(opts ...ScriptedOption) *Scripted {
	scripted := &Scripted{
		fallback: Decision{
			DisplayText: "Let's look at that together. Can you tell me what you tried first?",
			ResponderID: defaultResponderID,
			FinalReason: "fallback",
		},
		greeting: Decision{
			DisplayText: "Hi! Ready to pick up where we left off?",
			ResponderID: defaultResponderID,
			FinalReason: "greeting",
		},
	}
	for _, opt := range opts {
		opt(scripted)
	}
	return scripted
}

func (s *Scripted) Respond(ctx context.Context, request Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	s.requests = append(s.requests, request)

	decision := s.pickLocked(request)
	if decision.ResponderID == "" {
		decision.ResponderID = defaultResponderID
	}
	return &decision, nil
}

func (s *Scripted) pickLocked(request Request) Decision {
	if request.Text == "" && len(request.Audio) == 0 && len(request.Media) == 0 {
		return s.greeting
	}
	for _, rule := range s.rules {
		if strings.Contains(strings.ToLower(request.Text), strings.ToLower(rule.Match)) {
			return rule.Decision
		}
	}
	return s.fallback
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := make([]Request, len(s.requests))
	copy(requests, s.requests)
	return requests
}
