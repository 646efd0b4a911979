package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry errors.
var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrDuplicateCommand = errors.New("command already registered")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrRegistryClosed   = errors.New("registry closed")
)

// Mode is the editor mode a shortcut is active in.
type Mode string

const (
	ModeObject Mode = "OBJECT"
	ModeEdit   Mode = "EDIT"
)

// Shortcut is a key binding.
type Shortcut struct {
	Key   string
	Shift bool
	Ctrl  bool
	Alt   bool
	Mode  Mode
}

// IsZero reports whether no key is bound.
func (s Shortcut) IsZero() bool {
	return s.Key == ""
}

func (s Shortcut) String() string {
	if s.IsZero() {
		return ""
	}
	var parts []string
	if s.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if s.Alt {
		parts = append(parts, "Alt")
	}
	if s.Shift {
		parts = append(parts, "Shift")
	}
	parts = append(parts, strings.ToUpper(s.Key))
	out := strings.Join(parts, "+")
	if s.Mode != "" {
		out += " (" + string(s.Mode) + ")"
	}
	return out
}

// Handler runs a command against a scene.
type Handler func(ctx context.Context, scene *Scene) error

// Command is an operator exposed to the user.
type Command struct {
	Name        string // e.g. "object.nn_subdivide"
	Label       string
	Description string
	Shortcut    Shortcut
	Panel       string // UI panel listing the command, if any
	Handler     Handler
	// Unregister runs when the command is removed. Optional.
	Unregister func() error
}

// Registry holds commands in registration order.
type Registry struct {
	mu       sync.Mutex
	commands []*Command
	byName   map[string]*Command
	closed   bool
	log      *zap.Logger
}

// NewRegistry returns an empty registry. A nil logger discards output.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{byName: make(map[string]*Command), log: log}
}

// Register adds cmd. Names and bound shortcuts must be unique.
func (r *Registry) Register(cmd Command) error {
	if cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidCommand)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.byName[cmd.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.Name)
	}
	if !cmd.Shortcut.IsZero() {
		for _, other := range r.commands {
			if other.Shortcut == cmd.Shortcut {
				return fmt.Errorf("%w: %s already bound to %s", ErrDuplicateCommand, cmd.Shortcut, other.Name)
			}
		}
	}

	c := cmd
	r.commands = append(r.commands, &c)
	r.byName[c.Name] = &c
	r.log.Debug("command registered", zap.String("name", c.Name), zap.String("shortcut", c.Shortcut.String()))
	return nil
}

// Unregister removes the command called name and runs its Unregister hook.
// The command is removed even when the hook fails.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	cmd, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	delete(r.byName, name)
	for i, c := range r.commands {
		if c == cmd {
			r.commands = append(r.commands[:i], r.commands[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return r.teardown(cmd)
}

func (r *Registry) teardown(cmd *Command) error {
	if cmd.Unregister == nil {
		return nil
	}
	if err := cmd.Unregister(); err != nil {
		r.log.Warn("unregister failed", zap.String("name", cmd.Name), zap.Error(err))
		return fmt.Errorf("unregister %s: %w", cmd.Name, err)
	}
	return nil
}

// Lookup returns the command called name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.byName[name]
	if !ok {
		return Command{}, false
	}
	return *cmd, true
}

// LookupShortcut returns the command bound to s.
func (r *Registry) LookupShortcut(s Shortcut) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.commands {
		if !s.IsZero() && c.Shortcut == s {
			return *c, true
		}
	}
	return Command{}, false
}

// Execute runs the command called name on scene.
func (r *Registry) Execute(ctx context.Context, name string, scene *Scene) error {
	cmd, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return cmd.Handler(ctx, scene)
}

// Commands returns every command sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.Lock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, *c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Panel returns the commands shown on the named panel, sorted by name.
func (r *Registry) Panel(name string) []Command {
	var out []Command
	for _, c := range r.Commands() {
		if c.Panel == name {
			out = append(out, c)
		}
	}
	return out
}

// Close unregisters every command in reverse registration order. All hooks
// run; their errors are combined.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cmds := r.commands
	r.commands = nil
	r.byName = make(map[string]*Command)
	r.mu.Unlock()

	var err error
	for i := len(cmds) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.teardown(cmds[i]))
	}
	return err
}
