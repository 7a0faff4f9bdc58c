package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Handler runs one command. Returned errors are turned into a single reply
// by the engine's failure boundary.
type Handler func(ctx context.Context, req *Request) error

// Command is one registered chat command.
type Command struct {
	Name    string
	Aliases []string
	// Args is the argument hint shown by /help, e.g. "<URL>".
	Args        string
	Description string
	// Usage is the reply sent when arguments are missing or invalid.
	Usage string
	// MinArgs is the minimum number of whitespace-separated arguments.
	MinArgs int
	// FreeText commands read Request.Rest; MinArgs > 0 then means non-empty.
	FreeText bool
	Handler  Handler
}

// Registry holds commands in registration order with case-insensitive
// name and alias lookup. It rejects changes once sealed.
type Registry struct {
	commands []*Command
	index    map[string]*Command
	sealed   bool
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]*Command)}
}

var errRegistrySealed = errors.New("command registry is sealed")

// Register adds cmd. Names and aliases must be unique.
func (r *Registry) Register(cmd Command) error {
	if r.sealed {
		return errRegistrySealed
	}

	name := normalizeName(cmd.Name)
	if name == "" {
		return errors.New("command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %q has no handler", name)
	}

	cmd.Name = name
	keys := []string{name}
	aliases := make([]string, 0, len(cmd.Aliases))
	for _, alias := range cmd.Aliases {
		alias = normalizeName(alias)
		if alias == "" {
			continue
		}
		aliases = append(aliases, alias)
		keys = append(keys, alias)
	}
	cmd.Aliases = aliases

	for _, key := range keys {
		if _, exists := r.index[key]; exists {
			return fmt.Errorf("command name %q is already registered", key)
		}
	}

	registered := &cmd
	r.commands = append(r.commands, registered)
	for _, key := range keys {
		r.index[key] = registered
	}

	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.sealed = true
}

// Lookup finds a command by name or alias.
func (r *Registry) Lookup(name string) (*Command, bool) {
	cmd, ok := r.index[normalizeName(name)]
	return cmd, ok
}

// Known reports whether name or alias is registered.
func (r *Registry) Known(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Commands returns the registered commands in registration order.
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, *cmd)
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
