package poller

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/areahub/internal/platform"
)

// IsSelfAuthored reports whether a change was produced by the polling
// account itself. A change is self-authored when it carries the sentinel
// stamp, or when its author matches selfIdentity. An author hint of the form
// "Name <id>" is compared on the bracketed part. Comparison ignores case.
func IsSelfAuthored(authorHint, selfIdentity string, sentinel bool) bool {
	if sentinel {
		return true
	}
	self := strings.TrimSpace(selfIdentity)
	if self == "" {
		return false
	}
	return strings.EqualFold(authorIdentity(authorHint), self)
}

func authorIdentity(hint string) string {
	hint = strings.TrimSpace(hint)
	open := strings.LastIndex(hint, "<")
	if open >= 0 {
		if end := strings.Index(hint[open:], ">"); end > 0 {
			return strings.TrimSpace(hint[open+1 : open+end])
		}
	}
	return hint
}

// Filter is a compiled boolean expression evaluated against each change.
//
// The expression sees:
//   - payload: the change payload
//   - marker: the change marker
//   - author: the author hint
//   - user_id: the polled user
//
// Example: `payload.from endsWith "@example.com" and payload.subject != ""`
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles src. An empty src returns a nil filter, which
// matches everything.
func CompileFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src,
		expr.Env(map[string]any{
			"payload": map[string]any{},
			"marker":  "",
			"author":  "",
			"user_id": "",
		}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", src, err)
	}
	return &Filter{source: src, program: program}, nil
}

// Match evaluates the filter. A nil filter matches.
func (f *Filter) Match(userID string, change platform.Change) (bool, error) {
	if f == nil {
		return true, nil
	}
	payload := change.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	out, err := expr.Run(f.program, map[string]any{
		"payload": payload,
		"marker":  change.Marker,
		"author":  change.AuthorHint,
		"user_id": userID,
	})
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.source, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.source, out)
	}
	return matched, nil
}

// String returns the filter source.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}
