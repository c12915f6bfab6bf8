// Package render compiles message templates with {{ name }} placeholders and
// converts HTML fragments to plain text.
package render

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRender = errors.New("render failed")

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

type token struct {
	text     string
	variable bool
}

// Template is a compiled sequence of literal and variable tokens.
type Template struct {
	src    string
	tokens []token
}

// Compile parses src. It fails on an unclosed delimiter or a placeholder
// that is not a plain identifier.
func Compile(src string) (*Template, error) {

	t := &Template{src: src}

	rest := src
	offset := 0
	for rest != "" {
		i := strings.Index(rest, openDelim)
		if i < 0 {
			t.tokens = append(t.tokens, token{text: rest})
			break
		}
		if i > 0 {
			t.tokens = append(t.tokens, token{text: rest[:i]})
		}

		end := strings.Index(rest[i+len(openDelim):], closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed %q at offset %d", ErrRender, openDelim, offset+i)
		}

		name := strings.TrimSpace(rest[i+len(openDelim) : i+len(openDelim)+end])
		if !isIdent(name) {
			return nil, fmt.Errorf("%w: invalid placeholder %q at offset %d", ErrRender, name, offset+i)
		}
		t.tokens = append(t.tokens, token{text: name, variable: true})

		consumed := i + len(openDelim) + end + len(closeDelim)
		rest = rest[consumed:]
		offset += consumed
	}

	return t, nil
}

// Variables lists the placeholder names in order of first use.
func (t *Template) Variables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, tok := range t.tokens {
		if tok.variable && !seen[tok.text] {
			seen[tok.text] = true
			names = append(names, tok.text)
		}
	}
	return names
}

// Render substitutes vars. A placeholder without a binding is an error.
func (t *Template) Render(vars map[string]string) (string, error) {

	var b strings.Builder
	b.Grow(len(t.src))

	for _, tok := range t.tokens {
		if !tok.variable {
			b.WriteString(tok.text)
			continue
		}
		v, ok := vars[tok.text]
		if !ok {
			return "", fmt.Errorf("%w: %q is undefined", ErrRender, tok.text)
		}
		b.WriteString(v)
	}

	return b.String(), nil
}

func (t *Template) String() string {
	return t.src
}

// Render compiles src and renders it in one step.
func Render(src string, vars map[string]string) (string, error) {
	t, err := Compile(src)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}

// RecipientVars is the binding set every message template receives.
func RecipientVars(name, email string) map[string]string {
	return map[string]string{
		"name":  name,
		"email": email,
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
