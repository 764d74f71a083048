package errorformat

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrToolNotDetected is returned by Detect when the checker command's
// first non-option argument does not match a known tool and no
// explicit recipe was supplied.
var ErrToolNotDetected = errors.New("errorformat: could not detect tool from command")

// ErrPatternError is returned when a caller-supplied raw pattern (the
// -e flag) fails to compile.
var ErrPatternError = errors.New("errorformat: invalid pattern")

// ErrHelperNotFound is reserved for an external-helper parsing mode.
// The native parser in this package never produces it — see
// DESIGN.md for why tuick parses natively rather than shelling out to
// the reviewdog/errorformat helper.
var ErrHelperNotFound = errors.New("errorformat: helper binary not found")

// Recipe is the compiled parsing rule for one tool: an anchor pattern
// that starts a new block. How unanchored lines are handled is the
// same for every recipe and lives in Parse.
type Recipe struct {
	Name string

	// Anchor matches a line that starts a new location-bearing block.
	// Named capture groups "file", "line", "col", "endline", "endcol"
	// supply the block's location fields; unnamed patterns are not
	// supported by the built-in registry.
	Anchor *regexp.Regexp
}

// builtin holds the source form of each built-in recipe: a Vim-
// errorformat-flavoured pattern using the same %f/%l/%c letters as
// the source project, translated to a Go regexp with named groups.
var builtin = map[string]string{
	// ruff, flake8, pylint (in its %f:%l:%c: %m mode) all share this
	// "path:line:col: message" shape.
	"ruff":   `^(?P<file>[^:\n]+):(?P<line>\d+):(?P<col>\d+):\s*(?P<message>.*)$`,
	"flake8": `^(?P<file>[^:\n]+):(?P<line>\d+):(?P<col>\d+):\s*(?P<message>.*)$`,
	"pylint": `^(?P<file>[^:\n]+):(?P<line>\d+):(?P<col>\d+):\s*(?P<message>.*)$`,
	"mypy":   `^(?P<file>[^:\n]+):(?P<line>\d+):(?P<col>\d+):\s*(?P<type>\w+):\s*(?P<message>.*)$`,
	"pytest": `^(?P<file>[^:\n]+):(?P<line>\d+):\s*(?:in\s+\S+\s*)?(?P<message>.*)$`,
}

// Registry holds the compiled built-in recipes, looked up by name for
// -f <name> and auto-detection. A -e <pattern> recipe is built by
// FromPattern and is not stored here.
type Registry struct {
	compiled map[string]Recipe
}

// NewRegistry compiles the built-in tool table.
func NewRegistry() (*Registry, error) {
	r := &Registry{compiled: make(map[string]Recipe, len(builtin))}
	for name, pattern := range builtin {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: builtin recipe %q: %v", ErrPatternError, name, err)
		}
		r.compiled[name] = Recipe{Name: name, Anchor: re}
	}
	return r, nil
}

// Lookup returns the built-in recipe for name, or false if name is
// not a known tool.
func (r *Registry) Lookup(name string) (Recipe, bool) {
	recipe, ok := r.compiled[name]
	return recipe, ok
}

// FromPattern compiles a caller-supplied raw pattern (the -e flag)
// into a Recipe. The pattern must be a Go regexp with the same named
// groups as the built-ins (file, line, col are required; endline,
// endcol, message are optional).
func FromPattern(name, pattern string) (Recipe, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Recipe{}, fmt.Errorf("%w: %v", ErrPatternError, err)
	}
	for _, required := range []string{"file", "line", "col"} {
		if !hasGroup(re, required) {
			return Recipe{}, fmt.Errorf("%w: pattern is missing required named group %q", ErrPatternError, required)
		}
	}
	return Recipe{Name: name, Anchor: re}, nil
}

func hasGroup(re *regexp.Regexp, name string) bool {
	for _, n := range re.SubexpNames() {
		if n == name {
			return true
		}
	}
	return false
}

// Detect implements the auto-detection rule from spec §4.2: inspect
// the first non-option argument of the checker command; if it matches
// a known tool name in registry (including "python -m <tool>" forms),
// return that name. Otherwise fail with ErrToolNotDetected.
func (r *Registry) Detect(command []string) (string, error) {
	args := command
	if len(args) > 0 && isPythonInterpreter(args[0]) {
		args = args[1:]
		if len(args) >= 2 && args[0] == "-m" {
			name := normalizeToolName(args[1])
			if _, ok := r.Lookup(name); ok {
				return name, nil
			}
			return "", ErrToolNotDetected
		}
	}

	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		name := normalizeToolName(arg)
		if _, ok := r.Lookup(name); ok {
			return name, nil
		}
		return "", ErrToolNotDetected
	}
	return "", ErrToolNotDetected
}

func isPythonInterpreter(arg string) bool {
	base := filepath.Base(arg)
	return base == "python" || base == "python3" || strings.HasPrefix(base, "python3.")
}

// normalizeToolName strips a leading path so that "/usr/bin/ruff" and
// "ruff" both resolve to "ruff". Any other suffix is kept as is.
func normalizeToolName(arg string) string {
	return filepath.Base(arg)
}
