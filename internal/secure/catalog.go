package secure

import (
	"fmt"
	"sort"
	"strings"
)

// Recognized operation strings. The catalog is fail-closed: anything not
// listed here (or not enabled by configuration) is denied.
const (
	OpReadLetter    = "read:letter"
	OpWriteReminder = "write:reminder"
	OpDeleteData    = "delete:data"
	OpAIQuery       = "ai:query"
	OpAISummarize   = "ai:summarize"
	OpAuthLogin     = "auth:login"
	OpAuthCheck     = "auth:check"
	OpAuthLogout    = "auth:logout"
)

// Builtins lists every operation the service knows how to authorize.
func Builtins() []string {
	return []string{
		OpReadLetter,
		OpWriteReminder,
		OpDeleteData,
		OpAIQuery,
		OpAISummarize,
		OpAuthLogin,
		OpAuthCheck,
		OpAuthLogout,
	}
}

// Catalog is the runtime whitelist of permitted operations. Lookup is
// case-insensitive; membership never changes after construction.
type Catalog struct {
	ops map[string]struct{}
}

// NewCatalog builds a catalog from the given operation strings. Every
// string must name a built-in operation; a typo fails construction
// instead of silently denying at runtime.
func NewCatalog(operations []string) (*Catalog, error) {
	known := make(map[string]struct{}, len(Builtins()))
	for _, op := range Builtins() {
		known[op] = struct{}{}
	}
	ops := make(map[string]struct{}, len(operations))
	for _, op := range operations {
		normalized := strings.ToLower(strings.TrimSpace(op))
		if normalized == "" {
			continue
		}
		if _, ok := known[normalized]; !ok {
			return nil, fmt.Errorf("secure: unknown operation %q in permission catalog", op)
		}
		ops[normalized] = struct{}{}
	}
	return &Catalog{ops: ops}, nil
}

// DefaultCatalog permits every built-in operation.
func DefaultCatalog() *Catalog {
	cat, err := NewCatalog(Builtins())
	if err != nil {
		panic(err)
	}
	return cat
}

// Allowed reports whether the operation is in the whitelist. Empty
// strings and unknown operations are always denied.
func (c *Catalog) Allowed(operation string) bool {
	if c == nil {
		return false
	}
	operation = strings.ToLower(strings.TrimSpace(operation))
	if operation == "" {
		return false
	}
	_, ok := c.ops[operation]
	return ok
}

// Operations returns the permitted operation strings, sorted.
func (c *Catalog) Operations() []string {
	out := make([]string, 0, len(c.ops))
	for op := range c.ops {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
