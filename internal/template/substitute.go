// Package template replaces named placeholders in URL and path templates.
package template

import (
	"sort"
	"strings"
)

// Option configures a substitution.
type Option func(*options)

type options struct {
	allowed  map[string]struct{}
	sanitize func(string) string
	literal  bool
}

// WithAllowedKeys restricts substitution to the given keys. Placeholders of
// other keys are left untouched.
func WithAllowedKeys(keys ...string) Option {
	return func(o *options) {
		o.allowed = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			o.allowed[k] = struct{}{}
		}
	}
}

// WithSanitizer passes every value through fn before it is inserted.
func WithSanitizer(fn func(string) string) Option {
	return func(o *options) {
		o.sanitize = fn
	}
}

// WithLiteralMatch replaces every occurrence of a placeholder, even one
// followed by name characters. Safe when no key is a prefix of another,
// which lets "/:widthx:height" expand to "/100x50".
func WithLiteralMatch() Option {
	return func(o *options) {
		o.literal = true
	}
}

// segment is a run of template text. Substituted values are marked done so
// later keys never look inside them.
type segment struct {
	text string
	done bool
}

// Substitute replaces every occurrence of format(key) in tmpl with the
// key's value. Keys are applied longest first. An occurrence only matches
// when the next character of the output would not extend the placeholder
// name, so ":size" never matches inside ":sizeValue" and ":a" stays put
// when a value starting with a letter was substituted right after it.
// An empty template is returned unchanged.
func Substitute(tmpl string, params map[string]string, format func(string) string, opts ...Option) string {
	if tmpl == "" || len(params) == 0 {
		return tmpl
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	segments := []segment{{text: tmpl}}
	for _, key := range keys {
		if o.allowed != nil {
			if _, ok := o.allowed[key]; !ok {
				continue
			}
		}
		placeholder := format(key)
		if placeholder == "" {
			continue
		}
		value := params[key]
		if o.sanitize != nil {
			value = o.sanitize(value)
		}
		segments = replaceIn(segments, placeholder, value, o.literal)
	}

	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.text)
	}
	return b.String()
}

func replaceIn(segments []segment, placeholder, value string, literal bool) []segment {
	extendable := !literal && isNameByte(placeholder[len(placeholder)-1])
	out := make([]segment, 0, len(segments))
	for i, s := range segments {
		if s.done {
			out = append(out, s)
			continue
		}
		next := followingByte(segments[i+1:])
		rest := s.text
		for {
			idx := indexPlaceholder(rest, placeholder, next, extendable)
			if idx < 0 {
				break
			}
			if idx > 0 {
				out = append(out, segment{text: rest[:idx]})
			}
			out = append(out, segment{text: value, done: true})
			rest = rest[idx+len(placeholder):]
		}
		if rest != "" {
			out = append(out, segment{text: rest})
		}
	}
	return out
}

// followingByte is the first byte of the output after a segment, or -1 at
// the end of the output.
func followingByte(after []segment) int {
	for _, s := range after {
		if s.text != "" {
			return int(s.text[0])
		}
	}
	return -1
}

// indexPlaceholder finds the first standalone occurrence of placeholder in
// s. next is the byte the output continues with after s.
func indexPlaceholder(s, placeholder string, next int, extendable bool) int {
	for from := 0; from <= len(s); {
		i := strings.Index(s[from:], placeholder)
		if i < 0 {
			return -1
		}
		i += from
		if !extendable {
			return i
		}
		end := i + len(placeholder)
		if end < len(s) {
			if !isNameByte(s[end]) {
				return i
			}
		} else if next < 0 || !isNameByte(byte(next)) {
			return i
		}
		from = i + 1
	}
	return -1
}

func isNameByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
