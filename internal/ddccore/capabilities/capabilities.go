// Package capabilities parses the capabilities string a monitor
// returns over a multi-part read: a nested
// parenthesized property list, e.g.
// "(prot(monitor)type(lcd)model(X)cmds(01 02 03)vcp(02 04 05 08 10 12 14(01 02 05 08 0B) 16))".
// The parser is deliberately tolerant: unknown properties are kept
// opaque, malformed subtrees are recorded with their location instead
// of aborting the parse, and duplicate top-level properties merge.
package capabilities

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
	"unicode"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/vcp"
)

// LocatedError records a malformed subtree without aborting the
// parse (tolerant-parsing requirement).
type LocatedError struct {
	Offset  int
	Message string
}

func (e LocatedError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Message)
}

// ValueSet is either an explicit enumeration of legal values for a
// VCP feature, or Continuous (no enumeration present, meaning the
// feature accepts any value in its continuous range).
type ValueSet struct {
	Continuous bool
	Values     []byte
}

// Tree is the parsed capabilities string: every top-level property
// keyed by name, plus any malformed subtrees encountered along the
// way.
type Tree struct {
	// Properties maps a top-level property name to the raw tokens of
	// its argument list (opaque for anything this parser doesn't give
	// special treatment, i.e. everything except "vcp").
	Properties map[string][]string
	Errors     []LocatedError

	vcpSet map[byte]ValueSet
}

// VCP returns the parsed vcp() subtree: for each feature code, the
// set of legal values (or Continuous if the monitor listed the code
// with no enumeration).
func (t *Tree) VCP() map[vcp.FeatureCode]ValueSet {
	out := make(map[vcp.FeatureCode]ValueSet, len(t.vcpSet))
	for code, vs := range t.vcpSet {
		out[vcp.FeatureCode(code)] = vs
	}
	return out
}

// Parse tokenizes and parses a capabilities string.
func Parse(s string) *Tree {
	t := &Tree{
		Properties: make(map[string][]string),
		vcpSet:     make(map[byte]ValueSet),
	}

	var sc scanner.Scanner
	sc.Init(strings.NewReader(s))
	sc.Mode = scanner.ScanIdents
	sc.Whitespace = 1<<'\t' | 1<<'\n' | 1<<'\r' | 1<<' '
	// Property names ("prot", "mccs_ver") and bare VCP feature codes
	// that start with a digit ("0B", "10") both need to come out as a
	// single token. The default identifier rule requires a
	// letter-or-underscore first character, which would split "0B" in
	// two; widen it to also accept a leading digit.
	sc.IsIdentRune = isIdentRune

	p := &parser{sc: &sc, tree: t}
	p.next()
	if p.tok != '(' {
		p.errorf("expected '(' to open the capabilities string, got %q", p.text())
		return t
	}
	p.next()
	for p.tok != ')' && p.tok != scanner.EOF {
		p.parseProperty()
	}
	return t
}

type parser struct {
	sc   *scanner.Scanner
	tree *Tree
	tok  rune
}

func (p *parser) next() {
	p.tok = p.sc.Scan()
}

func (p *parser) text() string {
	return p.sc.TokenText()
}

func (p *parser) errorf(format string, args ...any) {
	p.tree.Errors = append(p.tree.Errors, LocatedError{
		Offset:  p.sc.Pos().Offset,
		Message: fmt.Sprintf(format, args...),
	})
}

// parseProperty parses one "name(arg arg ...)" entry of the
// capabilities string; the caller has positioned tok at the property
// name and not yet consumed its opening '('.
func (p *parser) parseProperty() {
	if p.tok != scanner.Ident {
		p.errorf("expected property name, got %q", p.text())
		p.next()
		return
	}
	name := p.text()
	p.next()

	if p.tok != '(' {
		p.errorf("expected '(' after property %q, got %q", name, p.text())
		return
	}
	p.next() // consume the property's own opening '('

	if name == "vcp" {
		p.parseVCPArgs()
		return
	}

	var args []string
	depth := 0
	for p.tok != scanner.EOF {
		if p.tok == ')' && depth == 0 {
			break
		}
		switch p.tok {
		case '(':
			depth++
			args = append(args, "(")
		case ')':
			depth--
		default:
			args = append(args, p.text())
		}
		p.next()
	}
	p.next() // consume the property's closing ')'

	p.tree.Properties[name] = append(p.tree.Properties[name], args...)
}

// parseVCPArgs parses the vcp() subtree: a flat list of feature
// codes, each optionally followed by a parenthesized value
// enumeration.
func (p *parser) parseVCPArgs() {
	for p.tok != ')' && p.tok != scanner.EOF {
		code, ok := p.parseHexByte()
		if !ok {
			p.errorf("expected a VCP feature code, got %q", p.text())
			p.next()
			continue
		}

		if p.tok == '(' {
			p.next()
			var values []byte
			for p.tok != ')' && p.tok != scanner.EOF {
				v, ok := p.parseHexByte()
				if !ok {
					p.errorf("expected a VCP value byte, got %q", p.text())
					p.next()
					continue
				}
				values = append(values, v)
			}
			p.next() // consume ')'
			p.mergeVCP(code, ValueSet{Values: values})
		} else {
			p.mergeVCP(code, ValueSet{Continuous: true})
		}
	}
	p.next() // consume the vcp subtree's closing ')'
}

// mergeVCP merges a duplicate top-level vcp() entry for the same
// feature code: an explicit enumeration always wins over a bare
// continuous mention of that code, regardless of which one the
// capabilities string lists first.
func (p *parser) mergeVCP(code byte, vs ValueSet) {
	existing, ok := p.tree.vcpSet[code]
	if !ok {
		p.tree.vcpSet[code] = vs
		return
	}
	if !existing.Continuous && vs.Continuous {
		return
	}
	p.tree.vcpSet[code] = vs
}

// parseHexByte accepts a bare hex token (scanned as an Ident that may
// start with a digit, e.g. "10" or "A0") and interprets it as
// hexadecimal per the capabilities string convention (MCCS feature
// codes and values are always written in hex without a prefix).
func (p *parser) parseHexByte() (byte, bool) {
	if p.tok != scanner.Ident {
		return 0, false
	}
	n, err := strconv.ParseUint(p.text(), 16, 8)
	if err != nil {
		return 0, false
	}
	p.next()
	return byte(n), true
}

// isIdentRune widens the scanner's default identifier rule (letter or
// underscore to start, letter/digit/underscore to continue) to also
// accept a leading digit, so that bare hex tokens like "0B" scan as
// one token instead of splitting into "0" and "B".
func isIdentRune(ch rune, i int) bool {
	return ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}

