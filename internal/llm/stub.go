package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/scrypster/chatmem/pkg/types"
)

// noopDecision is returned by StubGenerator when nothing is scripted.
const noopDecision = `{"action": "none", "memories": []}`

// StubCall records one request made to a StubGenerator.
type StubCall struct {
	SystemPrompt string
	UserPrompt   string
	Transcript   []types.Message
}

// StubGenerator is a deterministic Client for tests and offline runs.
// Scripted responses and errors are consumed in order; when the script is
// exhausted, Generate answers with a no-op decision and Chat echoes the
// last user message.
type StubGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []StubCall
	breaker   *CircuitBreaker
}

// NewStubGenerator creates a stub that replays responses in order.
func NewStubGenerator(responses ...string) *StubGenerator {
	return &StubGenerator{
		responses: responses,
		errs:      make([]error, len(responses)),
		breaker:   NewCircuitBreaker("stub"),
	}
}

// QueueResponse appends a scripted response.
func (s *StubGenerator) QueueResponse(resp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	s.errs = append(s.errs, nil)
}

// QueueError appends a scripted failure.
func (s *StubGenerator) QueueError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, "")
	s.errs = append(s.errs, err)
}

// Calls returns a copy of the recorded requests.
func (s *StubGenerator) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}

type stubAnswer struct {
	resp string
	err  error
}

// next records call and pops the next scripted answer. The boolean is
// false when the script is empty.
func (s *StubGenerator) next(call StubCall) (stubAnswer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, call)
	if len(s.responses) == 0 {
		return stubAnswer{}, false
	}
	a := stubAnswer{resp: s.responses[0], err: s.errs[0]}
	s.responses = s.responses[1:]
	s.errs = s.errs[1:]
	return a, true
}

// Generate returns the next scripted response or a no-op decision.
func (s *StubGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", upstreamError("stub", err)
	}
	a, ok := s.next(StubCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	if !ok {
		return noopDecision, nil
	}
	return a.resp, a.err
}

// Chat returns the next scripted response or echoes the last user message.
func (s *StubGenerator) Chat(ctx context.Context, systemPrompt string, transcript []types.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", upstreamError("stub", err)
	}
	cp := make([]types.Message, len(transcript))
	copy(cp, transcript)

	a, ok := s.next(StubCall{SystemPrompt: systemPrompt, Transcript: cp})
	if !ok {
		for i := len(transcript) - 1; i >= 0; i-- {
			if transcript[i].Role == types.RoleUser {
				return fmt.Sprintf("You said: %s", transcript[i].Content), nil
			}
		}
		return "Hello!", nil
	}
	return a.resp, a.err
}

// GetModel returns "stub".
func (s *StubGenerator) GetModel() string {
	return "stub"
}

// Breaker returns the stub's circuit breaker, which is never exercised.
func (s *StubGenerator) Breaker() *CircuitBreaker {
	return s.breaker
}

var _ Client = (*StubGenerator)(nil)
