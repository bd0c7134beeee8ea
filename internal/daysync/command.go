package daysync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"trading-journal/internal/discipline"
)

// ErrUnknownCommand is returned by Dispatch for an unbound name or key.
var ErrUnknownCommand = errors.New("unknown command")

// Command is a user action that can be invoked from more than one input path.
type Command interface {
	Name() string
	Execute(ctx context.Context) (*discipline.DayRecord, error)
}

// QuickLogCommand logs one trade through a session cache. An unauthenticated
// session makes it a silent no-op.
type QuickLogCommand struct {
	cache *Cache
}

// NewQuickLogCommand binds the command to a session.
func NewQuickLogCommand(cache *Cache) *QuickLogCommand {
	return &QuickLogCommand{cache: cache}
}

func (q *QuickLogCommand) Name() string { return "quick_log" }

func (q *QuickLogCommand) Execute(ctx context.Context) (*discipline.DayRecord, error) {
	rec, err := q.cache.QuickLog(ctx)
	if errors.Is(err, discipline.ErrUnauthenticated) {
		return nil, nil
	}
	return rec, err
}

// KeyEvent is a keystroke reported by the client.
type KeyEvent struct {
	Key     string `json:"key"`
	Ctrl    bool   `json:"ctrl,omitempty"`
	Alt     bool   `json:"alt,omitempty"`
	Meta    bool   `json:"meta,omitempty"`
	Editing bool   `json:"editing,omitempty"` // focus is in a text field
}

// Bindings resolves command names and hotkeys to the same Command values.
type Bindings struct {
	mu     sync.RWMutex
	byName map[string]Command
	byKey  map[string]Command
}

// NewBindings creates an empty registry.
func NewBindings() *Bindings {
	return &Bindings{
		byName: make(map[string]Command),
		byKey:  make(map[string]Command),
	}
}

// DefaultBindings registers the quick-log command under its name and the
// "l" hotkey.
func DefaultBindings(cache *Cache) *Bindings {
	b := NewBindings()
	b.Bind("l", NewQuickLogCommand(cache))
	return b
}

// Bind registers cmd under its name and under key.
func (b *Bindings) Bind(key string, cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byName[cmd.Name()] = cmd
	if key != "" {
		b.byKey[strings.ToLower(key)] = cmd
	}
}

// Lookup finds a command by name, then by key.
func (b *Bindings) Lookup(nameOrKey string) (Command, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cmd, ok := b.byName[nameOrKey]; ok {
		return cmd, true
	}
	cmd, ok := b.byKey[strings.ToLower(nameOrKey)]
	return cmd, ok
}

// Dispatch executes the command bound to nameOrKey.
func (b *Bindings) Dispatch(ctx context.Context, nameOrKey string) (*discipline.DayRecord, error) {
	cmd, ok := b.Lookup(nameOrKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, nameOrKey)
	}
	return cmd.Execute(ctx)
}

// HandleKey dispatches a plain keystroke. Keys typed into a text field or
// combined with a modifier are ignored, reported as handled=false.
func (b *Bindings) HandleKey(ctx context.Context, ev KeyEvent) (rec *discipline.DayRecord, handled bool, err error) {
	if ev.Editing || ev.Ctrl || ev.Alt || ev.Meta {
		return nil, false, nil
	}
	b.mu.RLock()
	cmd, ok := b.byKey[strings.ToLower(ev.Key)]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	rec, err = cmd.Execute(ctx)
	return rec, true, err
}
