// ABOUTME: Build-once immutable tool registry with scope-based visibility filtering.
// ABOUTME: Packs are added to a Builder at startup; the built Registry needs no locking.

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrDuplicateTool indicates a tool name is already registered.
var ErrDuplicateTool = errors.New("duplicate tool name")

// ErrDuplicatePack indicates a pack with the same ID was already added.
var ErrDuplicatePack = errors.New("duplicate pack id")

// ErrToolNotFound indicates the named tool is not in the registry.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidArguments indicates tool-call arguments failed schema validation.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Handler executes a tool call in-process and returns the result as JSON text.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// ToolDef describes one remotely invocable tool. OwningScope tags the tool
// for catalog visibility: an empty scope means the tool is visible to every
// connection unconditionally.
type ToolDef struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	OwningScope string
	Timeout     time.Duration
	Handler     Handler
}

// Pack is a named group of tools added to the Builder as a unit.
type Pack struct {
	ID      string
	Version string
	Tools   []ToolDef
}

// Tool is a registered tool with its compiled argument schema.
type Tool struct {
	Def    ToolDef
	PackID string
	schema *jsonschema.Schema
}

// ValidateArgs checks the given arguments against the tool's input schema.
// Tools without a schema accept any arguments.
func (t *Tool) ValidateArgs(args json.RawMessage) error {
	if t.schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := t.schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Builder accumulates packs during startup. It is not safe for concurrent
// use; all packs must be added before the server accepts connections.
type Builder struct {
	tools  []*Tool
	byName map[string]*Tool
	packs  map[string]string // pack id -> version
	logger *slog.Logger
}

// NewBuilder creates an empty registry builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		byName: make(map[string]*Tool),
		packs:  make(map[string]string),
		logger: logger.With("component", "catalog"),
	}
}

// AddPack registers all tools of a pack. Duplicate pack IDs and duplicate
// tool names are startup errors; nothing from a rejected pack is kept.
func (b *Builder) AddPack(pack *Pack) error {
	if _, exists := b.packs[pack.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePack, pack.ID)
	}

	for _, def := range pack.Tools {
		if existing, exists := b.byName[def.Name]; exists {
			return fmt.Errorf("%w: %q already registered by pack %q",
				ErrDuplicateTool, def.Name, existing.PackID)
		}
	}

	for _, def := range pack.Tools {
		def.OwningScope = strings.ToLower(strings.TrimSpace(def.OwningScope))
		tool := &Tool{Def: def, PackID: pack.ID}
		b.byName[def.Name] = tool
		b.tools = append(b.tools, tool)
	}
	b.packs[pack.ID] = pack.Version

	b.logger.Info("pack added",
		"pack_id", pack.ID,
		"version", pack.Version,
		"tool_count", len(pack.Tools),
	)
	return nil
}

// Build compiles every tool's input schema and returns the immutable
// Registry. A schema that does not compile is a startup error.
func (b *Builder) Build() (*Registry, error) {
	for _, tool := range b.tools {
		if len(tool.Def.InputSchema) == 0 {
			continue
		}
		schema, err := compileSchema(tool.Def.Name, tool.Def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", tool.Def.Name, err)
		}
		tool.schema = schema
	}

	reg := &Registry{
		tools:  b.tools,
		byName: b.byName,
		packs:  b.packs,
	}
	b.logger.Info("registry built", "pack_count", len(b.packs), "tool_count", len(b.tools))
	return reg, nil
}

// compileSchema compiles a JSON schema document for argument validation.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing input schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compiling input schema: %w", err)
	}
	return schema, nil
}

// Registry is the immutable tool catalog. It is constructed entirely before
// the server accepts connections and is safe for unsynchronized concurrent
// reads thereafter.
type Registry struct {
	tools  []*Tool
	byName map[string]*Tool
	packs  map[string]string
}

// Tools returns every registered tool in insertion order.
func (r *Registry) Tools() []*Tool {
	return r.tools
}

// Tool returns the named tool, or ErrToolNotFound.
func (r *Registry) Tool(name string) (*Tool, error) {
	tool, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Visible computes the subset of the catalog visible to a connection with
// the given granted scopes, preserving insertion order. A nil scope set is
// unrestricted and sees every tool; an empty non-nil set sees only unscoped
// tools. The computation reads only the immutable registry and the caller's
// own scope set, so it is race-free under arbitrary concurrency.
func (r *Registry) Visible(scopes []string) []*Tool {
	if scopes == nil {
		return r.tools
	}

	scopeSet := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		scopeSet[strings.ToLower(s)] = struct{}{}
	}

	visible := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool.Def.OwningScope == "" {
			visible = append(visible, tool)
			continue
		}
		if _, granted := scopeSet[tool.Def.OwningScope]; granted {
			visible = append(visible, tool)
		}
	}
	return visible
}

// VisibleTo reports whether a single named tool is visible to the given
// scope set. Unknown tools are not visible.
func (r *Registry) VisibleTo(name string, scopes []string) bool {
	tool, ok := r.byName[name]
	if !ok {
		return false
	}
	if scopes == nil || tool.Def.OwningScope == "" {
		return true
	}
	for _, s := range scopes {
		if strings.ToLower(s) == tool.Def.OwningScope {
			return true
		}
	}
	return false
}

// Packs returns the pack id -> version map, for operator display.
func (r *Registry) Packs() map[string]string {
	out := make(map[string]string, len(r.packs))
	for id, version := range r.packs {
		out[id] = version
	}
	return out
}
