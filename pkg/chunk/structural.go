// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// SemanticSpan is a structurally extracted unit of source: a type, function,
// method, or similar top-level declaration, with its 1-based inclusive line
// range and any member declarations nested inside it.
type SemanticSpan struct {
	Type      string // "struct", "interface", "class", "function", "method", ...
	Name      string
	StartLine int
	EndLine   int
	Members   []SemanticSpan
}

// StructureParser extracts semantic spans from source content. Implementations
// exist per language; when none exists or parsing fails, the chunker falls
// back to the sliding window. TryParseStructure must never panic: a broken
// file reports ok=false and the file degrades gracefully.
type StructureParser interface {
	// TryParseStructure returns the top-level semantic spans of content in
	// ascending line order, or ok=false when no structural units were found.
	TryParseStructure(content []byte) (spans []SemanticSpan, ok bool)
}

// treeSitterParser is a StructureParser backed by a Tree-sitter grammar.
// Tree-sitter is error-tolerant: files with syntax errors still yield partial
// trees, so a damaged file usually produces some usable spans.
type treeSitterParser struct {
	lang    *sitter.Language
	extract func(node *sitter.Node, content []byte) []SemanticSpan
}

// StructureParserFor returns the structural parser for a language, or nil when
// the language has no grammar (the caller then uses the sliding window).
func StructureParserFor(language string) StructureParser {
	switch language {
	case "go":
		return &treeSitterParser{lang: golang.GetLanguage(), extract: extractGoSpans}
	case "python":
		return &treeSitterParser{lang: python.GetLanguage(), extract: extractPythonSpans}
	case "typescript":
		return &treeSitterParser{lang: typescript.GetLanguage(), extract: extractTSSpans}
	case "javascript":
		return &treeSitterParser{lang: javascript.GetLanguage(), extract: extractTSSpans}
	default:
		return nil
	}
}

func (p *treeSitterParser) TryParseStructure(content []byte) ([]SemanticSpan, bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(p.lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, false
	}
	defer tree.Close()

	spans := p.extract(tree.RootNode(), content)
	if len(spans) == 0 {
		return nil, false
	}
	return spans, true
}

// nodeSpan converts a Tree-sitter node range to 1-based inclusive lines.
func nodeSpan(node *sitter.Node) (int, int) {
	return int(node.StartPoint().Row) + 1, int(node.EndPoint().Row) + 1
}

// nodeName returns the text of the node's "name" field, or "" when absent.
func nodeName(node *sitter.Node, content []byte) string {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	return string(content[nameNode.StartByte():nameNode.EndByte()])
}

// =============================================================================
// GO
// =============================================================================

// extractGoSpans walks the top level of a Go file. Type declarations become
// struct/interface/type spans; functions and methods are units of their own
// (Go methods are declared at the top level, not inside the type).
func extractGoSpans(root *sitter.Node, content []byte) []SemanticSpan {
	var spans []SemanticSpan

	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		switch node.Type() {
		case "type_declaration":
			spans = append(spans, extractGoTypeDecl(node, content)...)
		case "function_declaration":
			start, end := nodeSpan(node)
			spans = append(spans, SemanticSpan{
				Type: "function", Name: nodeName(node, content),
				StartLine: start, EndLine: end,
			})
		case "method_declaration":
			start, end := nodeSpan(node)
			spans = append(spans, SemanticSpan{
				Type: "method", Name: goMethodName(node, content),
				StartLine: start, EndLine: end,
			})
		}
	}

	return spans
}

// extractGoTypeDecl handles `type Foo struct{...}` and grouped declarations
// `type ( A struct{...}; B interface{...} )`.
func extractGoTypeDecl(node *sitter.Node, content []byte) []SemanticSpan {
	var spans []SemanticSpan
	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec.Type() != "type_spec" {
			continue
		}
		kind := "type"
		if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
			switch typeNode.Type() {
			case "struct_type":
				kind = "struct"
			case "interface_type":
				kind = "interface"
			}
		}
		// Grouped specs share the declaration node; a single spec spans
		// the whole declaration so the doc comment's neighbor lines stay
		// attached to the chunk.
		start, end := nodeSpan(spec)
		if node.NamedChildCount() == 1 {
			start, end = nodeSpan(node)
		}
		spans = append(spans, SemanticSpan{
			Type: kind, Name: nodeName(spec, content),
			StartLine: start, EndLine: end,
		})
	}
	return spans
}

// goMethodName builds "Recv.Name" for method declarations so chunks from
// different receivers with the same method name stay distinguishable.
func goMethodName(node *sitter.Node, content []byte) string {
	name := nodeName(node, content)
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return name
	}
	recvText := string(content[recv.StartByte():recv.EndByte()])
	return fmt.Sprintf("%s %s", recvText, name)
}

// =============================================================================
// PYTHON
// =============================================================================

// extractPythonSpans extracts top-level classes (with their methods as
// members) and functions. Decorated definitions span the decorator lines.
func extractPythonSpans(root *sitter.Node, content []byte) []SemanticSpan {
	var spans []SemanticSpan

	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		inner := node
		if node.Type() == "decorated_definition" {
			if def := node.ChildByFieldName("definition"); def != nil {
				inner = def
			}
		}

		switch inner.Type() {
		case "class_definition":
			start, _ := nodeSpan(node)
			_, end := nodeSpan(inner)
			span := SemanticSpan{
				Type: "class", Name: nodeName(inner, content),
				StartLine: start, EndLine: end,
			}
			span.Members = extractPythonMethods(inner, content)
			spans = append(spans, span)
		case "function_definition":
			start, _ := nodeSpan(node)
			_, end := nodeSpan(inner)
			spans = append(spans, SemanticSpan{
				Type: "function", Name: nodeName(inner, content),
				StartLine: start, EndLine: end,
			})
		}
	}

	return spans
}

func extractPythonMethods(classNode *sitter.Node, content []byte) []SemanticSpan {
	body := classNode.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	var members []SemanticSpan
	for i := 0; i < int(body.ChildCount()); i++ {
		node := body.Child(i)
		inner := node
		if node.Type() == "decorated_definition" {
			if def := node.ChildByFieldName("definition"); def != nil {
				inner = def
			}
		}
		if inner.Type() != "function_definition" {
			continue
		}
		start, _ := nodeSpan(node)
		_, end := nodeSpan(inner)
		members = append(members, SemanticSpan{
			Type: "method", Name: nodeName(inner, content),
			StartLine: start, EndLine: end,
		})
	}
	return members
}

// =============================================================================
// TYPESCRIPT / JAVASCRIPT
// =============================================================================

// extractTSSpans extracts classes (with method members), interfaces, and
// functions. The TypeScript grammar is a superset of JavaScript's for the
// node types used here, so both languages share the walker.
func extractTSSpans(root *sitter.Node, content []byte) []SemanticSpan {
	var spans []SemanticSpan

	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		inner := node
		// export statements wrap the declaration
		if node.Type() == "export_statement" {
			if decl := node.ChildByFieldName("declaration"); decl != nil {
				inner = decl
			}
		}

		switch inner.Type() {
		case "class_declaration", "abstract_class_declaration":
			start, _ := nodeSpan(node)
			_, end := nodeSpan(inner)
			span := SemanticSpan{
				Type: "class", Name: nodeName(inner, content),
				StartLine: start, EndLine: end,
			}
			span.Members = extractTSMethods(inner, content)
			spans = append(spans, span)
		case "interface_declaration":
			start, _ := nodeSpan(node)
			_, end := nodeSpan(inner)
			spans = append(spans, SemanticSpan{
				Type: "interface", Name: nodeName(inner, content),
				StartLine: start, EndLine: end,
			})
		case "function_declaration", "generator_function_declaration":
			start, _ := nodeSpan(node)
			_, end := nodeSpan(inner)
			spans = append(spans, SemanticSpan{
				Type: "function", Name: nodeName(inner, content),
				StartLine: start, EndLine: end,
			})
		case "enum_declaration":
			start, _ := nodeSpan(node)
			_, end := nodeSpan(inner)
			spans = append(spans, SemanticSpan{
				Type: "enum", Name: nodeName(inner, content),
				StartLine: start, EndLine: end,
			})
		}
	}

	return spans
}

func extractTSMethods(classNode *sitter.Node, content []byte) []SemanticSpan {
	body := classNode.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	var members []SemanticSpan
	for i := 0; i < int(body.ChildCount()); i++ {
		node := body.Child(i)
		if node.Type() != "method_definition" {
			continue
		}
		start, end := nodeSpan(node)
		kind := "method"
		if nodeName(node, content) == "constructor" {
			kind = "constructor"
		}
		members = append(members, SemanticSpan{
			Type: kind, Name: nodeName(node, content),
			StartLine: start, EndLine: end,
		})
	}
	return members
}
