// Package bdd provides BDD-style test fixtures for event-sourced aggregates.
// It enables expressive Given-When-Then testing patterns for command handling
// and aggregate behavior verification.
package bdd

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/go-huddle"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// TestFixture provides BDD-style testing for aggregates.
type TestFixture struct {
	t           TB
	aggregate   huddle.Aggregate
	givenEvents []interface{}
	result      error
	executed    bool
}

// Given sets up the initial aggregate with optional historical events.
// The events are rehydrated, so they never show up as pending changes.
func Given(t TB, aggregate huddle.Aggregate, events ...interface{}) *TestFixture {
	t.Helper()
	return &TestFixture{
		t:           t,
		aggregate:   aggregate,
		givenEvents: events,
	}
}

// When executes a command function against the aggregate.
// The command function should call methods on the aggregate and return any error.
func (f *TestFixture) When(commandFunc func() error) *TestFixture {
	f.t.Helper()

	for _, event := range f.givenEvents {
		if err := huddle.Rehydrate(f.aggregate, event); err != nil {
			f.t.Fatalf("Failed to apply given event %T: %v", event, err)
		}
	}

	f.result = commandFunc()
	f.executed = true

	return f
}

// Then asserts that the aggregate produced the expected events.
func (f *TestFixture) Then(expectedEvents ...interface{}) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: Then() must be called after When() - no command was executed")
	}

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	pending := f.aggregate.PendingChanges()
	if len(pending) != len(expectedEvents) {
		f.t.Fatalf("Expected %d events, got %d.\nExpected: %+v\nActual: %+v",
			len(expectedEvents), len(pending), expectedEvents, pending)
	}

	for i, expected := range expectedEvents {
		if !reflect.DeepEqual(pending[i], expected) {
			f.t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v",
				i, expected, pending[i])
		}
	}
}

// ThenEventTypes asserts the Go types of the produced events, in order.
// Use it when payloads carry generated values such as guest IDs.
func (f *TestFixture) ThenEventTypes(expected ...interface{}) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenEventTypes() must be called after When() - no command was executed")
	}

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	pending := f.aggregate.PendingChanges()
	if len(pending) != len(expected) {
		f.t.Fatalf("Expected %d events, got %d.\nActual: %+v", len(expected), len(pending), pending)
	}

	for i := range expected {
		want, got := reflect.TypeOf(expected[i]), reflect.TypeOf(pending[i])
		if want != got {
			f.t.Errorf("Event %d type mismatch: expected %v, got %v", i, want, got)
		}
	}
}

// ThenError asserts that the command produced the expected error.
func (f *TestFixture) ThenError(expectedErr error) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenError() must be called after When() - no command was executed")
	}

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !errors.Is(f.result, expectedErr) {
		f.t.Errorf("Expected error %v, got %v", expectedErr, f.result)
	}

	if n := len(f.aggregate.PendingChanges()); n > 0 {
		f.t.Errorf("Expected no events after error, got %d", n)
	}
}

// ThenErrorContains asserts that the error message contains a substring.
func (f *TestFixture) ThenErrorContains(substring string) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenErrorContains() must be called after When() - no command was executed")
	}

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !strings.Contains(f.result.Error(), substring) {
		f.t.Errorf("Expected error containing %q, got %q", substring, f.result.Error())
	}
}

// ThenNoEvents asserts that no events were produced.
func (f *TestFixture) ThenNoEvents() {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenNoEvents() must be called after When() - no command was executed")
	}

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	pending := f.aggregate.PendingChanges()
	if len(pending) > 0 {
		f.t.Errorf("Expected no events, got %d: %+v", len(pending), pending)
	}
}

// CommandTestFixture provides BDD-style testing with command bus integration.
type CommandTestFixture struct {
	t        TB
	ctx      context.Context
	bus      *huddle.CommandBus
	repo     *huddle.Repository
	history  []history
	result   huddle.CommandResult
	err      error
	executed bool
}

type history struct {
	aggregate huddle.Aggregate
	events    []interface{}
}

// GivenCommand creates a new command test fixture with a command bus.
func GivenCommand(t TB, bus *huddle.CommandBus, repo *huddle.Repository) *CommandTestFixture {
	t.Helper()
	return &CommandTestFixture{
		t:    t,
		ctx:  context.Background(),
		bus:  bus,
		repo: repo,
	}
}

// WithContext sets a custom context for the command execution.
func (f *CommandTestFixture) WithContext(ctx context.Context) *CommandTestFixture {
	f.ctx = ctx
	return f
}

// WithHistory applies events to a fresh aggregate and saves it before the
// command is dispatched.
func (f *CommandTestFixture) WithHistory(aggregate huddle.Aggregate, events ...interface{}) *CommandTestFixture {
	f.history = append(f.history, history{aggregate: aggregate, events: events})
	return f
}

// When dispatches the command.
func (f *CommandTestFixture) When(cmd huddle.Command) *CommandTestFixture {
	f.t.Helper()

	if f.repo != nil {
		for _, h := range f.history {
			for _, event := range h.events {
				if err := huddle.Apply(h.aggregate, event); err != nil {
					f.t.Fatalf("Failed to apply given event %T: %v", event, err)
				}
			}
			if err := f.repo.Save(f.ctx, h.aggregate); err != nil {
				f.t.Fatalf("Failed to store given events: %v", err)
			}
		}
	}

	f.result, f.err = f.bus.Dispatch(f.ctx, cmd)
	f.executed = true
	return f
}

// ThenSucceeds asserts the command succeeded.
func (f *CommandTestFixture) ThenSucceeds() *CommandTestFixture {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenSucceeds() must be called after When() - no command was dispatched")
	}

	if f.err != nil {
		f.t.Fatalf("Expected success but got error: %v", f.err)
	}

	if !f.result.IsSuccess() {
		f.t.Fatalf("Expected success result but got error: %v", f.result.Error)
	}

	return f
}

// ThenFails asserts the command failed with the expected error.
func (f *CommandTestFixture) ThenFails(expectedErr error) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenFails() must be called after When() - no command was dispatched")
	}

	if f.err == nil && f.result.IsSuccess() {
		f.t.Fatal("Expected failure but got success")
	}

	errToCheck := f.err
	if errToCheck == nil {
		errToCheck = f.result.Error
	}

	if !errors.Is(errToCheck, expectedErr) {
		f.t.Errorf("Expected error %v, got %v", expectedErr, errToCheck)
	}
}

// ThenReturnsAggregateID asserts the result contains the expected aggregate ID.
func (f *CommandTestFixture) ThenReturnsAggregateID(expected string) *CommandTestFixture {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenReturnsAggregateID() must be called after When() - no command was dispatched")
	}

	if f.result.AggregateID != expected {
		f.t.Errorf("Expected aggregate ID %q, got %q", expected, f.result.AggregateID)
	}

	return f
}

// ThenReturnsVersion asserts the result contains the expected version.
func (f *CommandTestFixture) ThenReturnsVersion(expected int64) *CommandTestFixture {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenReturnsVersion() must be called after When() - no command was dispatched")
	}

	if f.result.Version != expected {
		f.t.Errorf("Expected version %d, got %d", expected, f.result.Version)
	}

	return f
}
