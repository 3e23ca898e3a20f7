// Package envfile reads and writes .env files while preserving comments,
// blank lines, and key order, so a synced file stays diffable.
package envfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// LineKind discriminates the line types an env file can contain.
type LineKind int

const (
	KindBlank LineKind = iota
	KindComment
	KindPair
)

// Line is a single parsed line. For KindPair, Key and Value are set;
// for KindComment and KindBlank, Raw holds the original text.
type Line struct {
	Kind   LineKind
	Key    string
	Value  string
	Raw    string
	export bool
}

// Document is an ordered .env file. Rewrites round-trip comments and
// ordering, which the shell scripts this replaces never guaranteed.
type Document struct {
	lines []Line
	byKey map[string]int
}

// Parse reads KEY=VALUE lines from r. Lines starting with '#' and blank
// lines are kept verbatim. An `export ` prefix is tolerated and preserved.
func Parse(r io.Reader) (*Document, error) {
	doc := &Document{byKey: make(map[string]int)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSuffix(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(raw)

		switch {
		case trimmed == "":
			doc.lines = append(doc.lines, Line{Kind: KindBlank, Raw: raw})
		case strings.HasPrefix(trimmed, "#"):
			doc.lines = append(doc.lines, Line{Kind: KindComment, Raw: raw})
		default:
			line, err := parsePair(trimmed)
			if err != nil {
				return nil, fmt.Errorf("envfile: line %d: %w", lineNo, err)
			}
			if prev, dup := doc.byKey[line.Key]; dup {
				// Last assignment wins, matching shell sourcing semantics.
				doc.lines[prev] = line
				continue
			}
			doc.byKey[line.Key] = len(doc.lines)
			doc.lines = append(doc.lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("envfile: %w", err)
	}
	return doc, nil
}

func parsePair(s string) (Line, error) {
	line := Line{Kind: KindPair}
	if rest, ok := strings.CutPrefix(s, "export "); ok {
		line.export = true
		s = strings.TrimSpace(rest)
	}

	key, value, found := strings.Cut(s, "=")
	if !found {
		return Line{}, fmt.Errorf("missing '=' in %q", s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Line{}, fmt.Errorf("empty key in %q", s)
	}
	for _, r := range key {
		if !isKeyRune(r) {
			return Line{}, fmt.Errorf("invalid key %q", key)
		}
	}

	line.Key = key
	line.Value = unquote(strings.TrimSpace(value))
	return line, nil
}

func isKeyRune(r rune) bool {
	return r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// unquote strips one layer of matching single or double quotes. Double
// quotes also unescape \" and \\ the way dotenv loaders do.
func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	if v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	if v[0] == '"' && v[len(v)-1] == '"' {
		inner := v[1 : len(v)-1]
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		inner = strings.ReplaceAll(inner, `\\`, `\`)
		return inner
	}
	return v
}

// quoteIfNeeded wraps values that would not survive a naive KEY=VALUE
// round trip: whitespace, '#', quotes, or leading/trailing space.
func quoteIfNeeded(v string) string {
	if v == "" {
		return v
	}
	needs := strings.TrimSpace(v) != v
	if !needs {
		needs = strings.ContainsAny(v, " \t#'\"")
	}
	if !needs {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// Load parses the env file at path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("envfile: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Get returns the value for key and whether it is present.
func (d *Document) Get(key string) (string, bool) {
	i, ok := d.byKey[key]
	if !ok {
		return "", false
	}
	return d.lines[i].Value, true
}

// Set updates key in place, or appends it at the end of the file.
func (d *Document) Set(key, value string) {
	if i, ok := d.byKey[key]; ok {
		d.lines[i].Value = value
		return
	}
	d.byKey[key] = len(d.lines)
	d.lines = append(d.lines, Line{Kind: KindPair, Key: key, Value: value})
}

// Unset removes key, reporting whether it was present. Surrounding
// comments are left untouched.
func (d *Document) Unset(key string) bool {
	i, ok := d.byKey[key]
	if !ok {
		return false
	}
	d.lines = append(d.lines[:i], d.lines[i+1:]...)
	delete(d.byKey, key)
	for k, idx := range d.byKey {
		if idx > i {
			d.byKey[k] = idx - 1
		}
	}
	return true
}

// Keys returns all keys in file order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.byKey))
	for _, line := range d.lines {
		if line.Kind == KindPair {
			keys = append(keys, line.Key)
		}
	}
	return keys
}

// Pairs returns a key/value snapshot of the document.
func (d *Document) Pairs() map[string]string {
	pairs := make(map[string]string, len(d.byKey))
	for key, i := range d.byKey {
		pairs[key] = d.lines[i].Value
	}
	return pairs
}

// SortedKeys returns all keys sorted, for stable diff output.
func (d *Document) SortedKeys() []string {
	keys := d.Keys()
	sort.Strings(keys)
	return keys
}

// Bytes serializes the document. Pair lines are regenerated; comment and
// blank lines are emitted verbatim.
func (d *Document) Bytes() []byte {
	var b strings.Builder
	for _, line := range d.lines {
		switch line.Kind {
		case KindPair:
			if line.export {
				b.WriteString("export ")
			}
			b.WriteString(line.Key)
			b.WriteByte('=')
			b.WriteString(quoteIfNeeded(line.Value))
		default:
			b.WriteString(line.Raw)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Save writes the document to path with owner-only permissions.
func (d *Document) Save(path string) error {
	if err := os.WriteFile(path, d.Bytes(), 0600); err != nil {
		return fmt.Errorf("envfile: %w", err)
	}
	return nil
}
