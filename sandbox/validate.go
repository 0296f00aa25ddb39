package sandbox

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/lua"

	"github.com/soulstack/soulmesh/core"
)

// DefaultDeniedGlobals enumerates global names guest source may not
// reference. Each entry either reaches host capabilities (os, io, require,
// load*) or can be used to break out of the restricted environment
// (metatable and raw-access primitives, _G/_ENV). The runtime environment
// never exposes these regardless; denying them statically surfaces the
// problem before any execution.
var DefaultDeniedGlobals = []string{
	"os", "io", "debug", "package", "coroutine",
	"require", "dofile", "loadfile", "load", "loadstring",
	"collectgarbage", "getmetatable", "setmetatable",
	"rawget", "rawset", "rawequal", "rawlen",
	"_G", "_ENV",
}

// DefaultAllowedModules enumerates the modules guest source may require.
// All three are preloaded into every execution environment, so a require
// call is normally unnecessary and anything else is a violation.
var DefaultAllowedModules = []string{"math", "string", "table"}

// Violation reports why a source was rejected before execution. Rule is one
// of "syntax", "denied-global" or "denied-module".
type Violation struct {
	Rule    string `json:"rule"`
	Symbol  string `json:"symbol,omitempty"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (v *Violation) Error() string {
	if v.Symbol != "" {
		return fmt.Sprintf("sandbox violation [%s] at line %d: %s (%q)", v.Rule, v.Line, v.Message, v.Symbol)
	}
	return fmt.Sprintf("sandbox violation [%s] at line %d: %s", v.Rule, v.Line, v.Message)
}

// Validate parses the source and rejects it if it is syntactically invalid,
// references a deny-listed global or requires a non-allow-listed module.
// A nil return means the source passed static validation.
func (e *Executor) Validate(source string) error {
	_, err := e.analyze(source)
	return err
}

// Extract discovers the top-level callables defined by the source without
// executing anything. Names carrying the configured private marker are
// excluded: they stay callable from other functions in the same source but
// are not part of the externally callable set.
func (e *Executor) Extract(source string) ([]core.FunctionDescriptor, error) {
	descriptors, err := e.analyze(source)
	if err != nil {
		return nil, err
	}
	out := make([]core.FunctionDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if e.private(d.Name) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// analyze runs the shared validation walk and returns every top-level
// function declaration, private ones included.
func (e *Executor) analyze(source string) ([]core.FunctionDescriptor, error) {
	content := []byte(source)

	e.parseMu.Lock()
	tree, err := e.parser.ParseCtx(context.Background(), nil, content)
	e.parseMu.Unlock()
	if err != nil {
		return nil, &Violation{Rule: "syntax", Message: fmt.Sprintf("parse failed: %v", err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		return nil, &Violation{Rule: "syntax", Line: line, Message: "source is not valid Lua"}
	}

	if v := e.checkDeniedSymbols(root, content); v != nil {
		return nil, v
	}
	return extractDeclarations(root, content), nil
}

// newLuaParser builds a tree-sitter parser for the Lua grammar. Parsers are
// not safe for concurrent use; the executor serializes access.
func newLuaParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(lua.GetLanguage())
	return p
}

// checkDeniedSymbols walks every node and flags identifier references to
// denied globals plus require() calls outside the module allow-list. Field
// names on the right-hand side of an index expression (t.os) are not global
// references and pass.
func (e *Executor) checkDeniedSymbols(root *sitter.Node, content []byte) *Violation {
	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		switch n.Type() {
		case "identifier":
			name := n.Content(content)
			if _, denied := e.deniedGlobals[name]; !denied {
				continue
			}
			if isIndexField(n) || isDeclaredName(n) || isRequireCallee(n, content) {
				continue
			}
			return &Violation{
				Rule:    "denied-global",
				Symbol:  name,
				Line:    int(n.StartPoint().Row) + 1,
				Message: "reference to denied global",
			}
		case "function_call":
			callee := n.ChildByFieldName("prefix")
			if callee == nil || callee.Type() != "identifier" || callee.Content(content) != "require" {
				continue
			}
			module := requireArgument(n, content)
			if _, allowed := e.allowedModules[module]; allowed {
				continue
			}
			return &Violation{
				Rule:    "denied-module",
				Symbol:  module,
				Line:    int(n.StartPoint().Row) + 1,
				Message: "require of non-allow-listed module",
			}
		}
	}
	return nil
}

// isIndexField reports whether the identifier is the field side of a dotted
// or method access, i.e. the "b" in a.b or a:b. The grammar keeps the dot
// and colon as sibling tokens of the field identifier rather than wrapping
// the access in a dedicated node.
func isIndexField(n *sitter.Node) bool {
	prev := n.PrevSibling()
	if prev == nil {
		return false
	}
	switch prev.Type() {
	case ".", ":", "self_call_colon", "table_dot", "table_colon":
		return true
	}
	return false
}

// isDeclaredName reports whether the identifier names something being
// declared (a function name or parameter) rather than a value reference.
func isDeclaredName(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "parameter_list", "function_name", "function_name_field":
		return true
	case "field":
		// Table constructor key, as in {os = 1}.
		next := n.NextSibling()
		return next != nil && next.Type() == "="
	}
	return false
}

// isRequireCallee reports whether the identifier is the "require" callee of
// a call expression. The function_call branch owns the module allow-list
// check, so the bare identifier is not itself a violation there.
func isRequireCallee(n *sitter.Node, content []byte) bool {
	parent := n.Parent()
	return parent != nil && parent.Type() == "function_call" &&
		n.PrevSibling() == nil && n.Content(content) == "require"
}

// requireArgument pulls the module name out of require("name") /
// require 'name'. An empty return fails the allow-list check, which is the
// safe default for dynamic arguments.
func requireArgument(call *sitter.Node, content []byte) string {
	args := call.ChildByFieldName("args")
	if args == nil {
		return ""
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() == "string" {
			return strings.Trim(arg.Content(content), `"'[]`)
		}
	}
	return ""
}

func firstErrorLine(root *sitter.Node) int {
	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			return 0
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			return int(n.StartPoint().Row) + 1
		}
	}
}

// extractDeclarations collects top-level function declarations in source
// order. An EmmyLua doc block attached to a declaration contributes the
// description, parameter type tags and optionality; the grammar parses the
// block into a documentation field on the declaration itself.
func extractDeclarations(root *sitter.Node, content []byte) []core.FunctionDescriptor {
	var out []core.FunctionDescriptor
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if n.Type() != "function_statement" {
			continue
		}
		name := bareFunctionName(n, content)
		if name == "" {
			// Dotted and method declarations (t.f, t:f) are not top-level
			// callables addressable by bare name.
			continue
		}
		desc := core.FunctionDescriptor{Name: name}
		doc := parseEmmyDoc(n.ChildByFieldName("documentation"), content)
		desc.Description = doc.description
		desc.Parameters, desc.Variadic = extractParameters(n, content, doc)
		out = append(out, desc)
	}
	return out
}

// bareFunctionName returns the declared name when it is a single identifier,
// and "" for dotted or method names.
func bareFunctionName(decl *sitter.Node, content []byte) string {
	name := decl.ChildByFieldName("name")
	if name == nil || name.Type() != "function_name" {
		return ""
	}
	if int(name.NamedChildCount()) != 1 {
		return ""
	}
	id := name.NamedChild(0)
	if id.Type() != "identifier" {
		return ""
	}
	return id.Content(content)
}

// docAnnotations is the parsed form of a function's EmmyLua doc block.
type docAnnotations struct {
	description string
	params      map[string]paramAnnotation
}

type paramAnnotation struct {
	typeTag  string
	optional bool
	doc      string
}

// parseEmmyDoc reads an emmy_documentation node. The header lines become the
// description; each ---@param line contributes a type tag, a trailing "?" on
// the type marks the parameter optional, and text after ":" documents it.
func parseEmmyDoc(doc *sitter.Node, content []byte) docAnnotations {
	out := docAnnotations{params: map[string]paramAnnotation{}}
	if doc == nil || doc.Type() != "emmy_documentation" {
		return out
	}
	for i := 0; i < int(doc.NamedChildCount()); i++ {
		c := doc.NamedChild(i)
		switch c.Type() {
		case "emmy_header":
			out.description = headerText(c.Content(content))
		case "emmy_parameter":
			name := c.ChildByFieldName("name")
			if name == nil {
				continue
			}
			ann := paramAnnotation{typeTag: "any"}
			if typ := c.ChildByFieldName("type"); typ != nil {
				ann.optional = hasNullableMarker(typ)
				if id := firstChildOfType(typ, "emmy_identifier"); id != nil {
					ann.typeTag = normalizeTypeTag(id.Content(content))
				}
			}
			if d := c.ChildByFieldName("description"); d != nil {
				ann.doc = strings.TrimSpace(d.Content(content))
			}
			out.params[name.Content(content)] = ann
		}
	}
	return out
}

// headerText strips the --- prefix from each header line and joins them.
func headerText(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		text := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-"))
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " ")
}

// hasNullableMarker reports whether the emmy_type carries a trailing "?",
// as in boolean?.
func hasNullableMarker(typ *sitter.Node) bool {
	for i := 0; i < int(typ.ChildCount()); i++ {
		if typ.Child(i).Type() == "?" {
			return true
		}
	}
	return false
}

func firstChildOfType(n *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == nodeType {
			return c
		}
	}
	return nil
}

// normalizeTypeTag maps Lua annotation types onto schema type tags.
func normalizeTypeTag(tag string) string {
	switch strings.ToLower(tag) {
	case "integer", "int":
		return "integer"
	case "number", "float":
		return "float"
	case "string":
		return "string"
	case "boolean", "bool":
		return "boolean"
	case "table":
		return "table"
	default:
		return "any"
	}
}

func extractParameters(decl *sitter.Node, content []byte, ann docAnnotations) ([]core.ParameterSpec, bool) {
	params := firstChildOfType(decl, "parameter_list")
	if params == nil {
		return nil, false
	}
	var out []core.ParameterSpec
	variadic := false
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			name := p.Content(content)
			spec := core.ParameterSpec{Name: name, TypeTag: "any", Required: true}
			if a, ok := ann.params[name]; ok {
				spec.TypeTag = a.typeTag
				spec.Required = !a.optional
				spec.Description = a.doc
			}
			out = append(out, spec)
		case "ellipsis", "spread":
			variadic = true
		}
	}
	return out, variadic
}
