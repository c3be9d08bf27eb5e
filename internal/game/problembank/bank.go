// Package problembank holds the riddle inventory and issues the next round's puzzle.
package problembank

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"riddle-pool-bot/internal/game/answer"
)

// Errors for problem bank operations.
var (
	ErrEmptyInventory = errors.New("problem inventory is empty")
	ErrInvalidProblem = errors.New("problem key and prompt are required")
)

// Problem is one inventory entry. Answer is only read while issuing.
type Problem struct {
	Key    string
	Prompt string
	Answer string
}

// Issue is what a new round is built from. It never carries the plaintext answer.
type Issue struct {
	Key        string
	Prompt     string
	Commitment answer.Commitment
}

// Bank manages the problem inventory.
// It provides a thread-safe way to register problems and pick the next one.
type Bank struct {
	mu           sync.RWMutex
	problems     []Problem
	index        map[string]int
	allowRepeats bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Bank.
type Option func(*Bank)

// WithRand makes selection deterministic. Intended for tests.
func WithRand(r *rand.Rand) Option {
	return func(b *Bank) { b.rng = r }
}

// WithRepeats allows the same problem to be issued twice in a row.
func WithRepeats(allow bool) Option {
	return func(b *Bank) { b.allowRepeats = allow }
}

// New creates an empty bank.
func New(opts ...Option) *Bank {
	b := &Bank{index: make(map[string]int)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewWithProblems creates a bank pre-loaded with problems.
func NewWithProblems(problems []Problem, opts ...Option) (*Bank, error) {
	b := New(opts...)
	for _, p := range problems {
		if err := b.Add(p); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Add registers a problem. A problem with the same key is replaced.
func (b *Bank) Add(p Problem) error {
	if p.Key == "" || p.Prompt == "" {
		return ErrInvalidProblem
	}
	if _, err := answer.Commit(p.Answer); err != nil {
		return fmt.Errorf("problem %q: %w", p.Key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.index[p.Key]; ok {
		b.problems[i] = p
		return nil
	}
	b.index[p.Key] = len(b.problems)
	b.problems = append(b.problems, p)
	return nil
}

// Count returns the number of problems in the inventory.
func (b *Bank) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.problems)
}

// Keys returns the inventory keys in registration order.
func (b *Bank) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, len(b.problems))
	for i, p := range b.problems {
		keys[i] = p.Key
	}
	return keys
}

// IssueNext picks a problem uniformly at random and commits to its answer.
// lastKey is excluded unless repeats are allowed or it is the only problem.
func (b *Bank) IssueNext(lastKey string) (*Issue, error) {
	b.mu.RLock()
	candidates := make([]Problem, 0, len(b.problems))
	for _, p := range b.problems {
		if !b.allowRepeats && p.Key == lastKey {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		candidates = append(candidates, b.problems...)
	}
	b.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, ErrEmptyInventory
	}

	p := candidates[b.intN(len(candidates))]
	c, err := answer.Commit(p.Answer)
	if err != nil {
		return nil, fmt.Errorf("problem %q: %w", p.Key, err)
	}

	return &Issue{Key: p.Key, Prompt: p.Prompt, Commitment: c}, nil
}

func (b *Bank) intN(n int) int {
	if b.rng == nil {
		return rand.IntN(n)
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.IntN(n)
}
