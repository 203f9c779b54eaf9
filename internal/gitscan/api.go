package gitscan

import (
	"context"
	"fmt"
	goast "go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// MaxAPIEntries caps the public-interface summary kept per file.
const MaxAPIEntries = 10

// PublicAPI extracts a summary of the public interface of a source file:
// top-level functions and classes (with their public methods) for Python,
// exported functions, methods and types for Go. Names starting with an
// underscore are private by convention and skipped. Unsupported languages
// and unparsable files yield nil.
func PublicAPI(ctx context.Context, path string, src []byte) []string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		api, err := pythonAPI(ctx, src)
		if err != nil {
			return nil
		}
		return api
	case ".go":
		return goAPI(src)
	default:
		return nil
	}
}

func pythonAPI(ctx context.Context, src []byte) ([]string, error) {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("parse python: syntax error")
	}

	var names []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := unwrapDecorated(root.NamedChild(i))
		if node == nil {
			continue
		}
		switch node.Type() {
		case "function_definition":
			name := nodeName(node, src)
			if name == "" || strings.HasPrefix(name, "_") {
				continue
			}
			if isAsync(node) {
				names = append(names, fmt.Sprintf("async def %s(...)", name))
				continue
			}
			names = append(names, fmt.Sprintf("def %s(%s)", name, strings.Join(positionalParams(node, src), ", ")))
		case "class_definition":
			name := nodeName(node, src)
			if name == "" || strings.HasPrefix(name, "_") {
				continue
			}
			methods := publicMethods(node, src)
			if len(methods) > 0 {
				names = append(names, fmt.Sprintf("class %s [%s]", name, strings.Join(methods, ", ")))
			} else {
				names = append(names, "class "+name)
			}
		}
	}
	return names, nil
}

// unwrapDecorated returns the definition inside a decorated_definition, or
// node itself.
func unwrapDecorated(node *sitter.Node) *sitter.Node {
	if node == nil || node.Type() != "decorated_definition" {
		return node
	}
	if def := node.ChildByFieldName("definition"); def != nil {
		return def
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition":
			return child
		}
	}
	return nil
}

func nodeName(node *sitter.Node, src []byte) string {
	n := node.ChildByFieldName("name")
	if n == nil {
		return ""
	}
	return n.Content(src)
}

func isAsync(node *sitter.Node) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "async" {
			return true
		}
	}
	return false
}

// positionalParams lists parameter names up to the first *args or bare "*".
func positionalParams(fn *sitter.Node, src []byte) []string {
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}

	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			names = append(names, p.Content(src))
		case "typed_parameter":
			if id := p.NamedChild(0); id != nil && id.Type() == "identifier" {
				names = append(names, id.Content(src))
			}
		case "default_parameter", "typed_default_parameter":
			if id := p.ChildByFieldName("name"); id != nil {
				names = append(names, id.Content(src))
			}
		case "list_splat_pattern", "dictionary_splat_pattern", "keyword_separator":
			return names
		}
	}
	return names
}

func publicMethods(class *sitter.Node, src []byte) []string {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	var methods []string
	for i := 0; i < int(body.NamedChildCount()); i++ {
		def := unwrapDecorated(body.NamedChild(i))
		if def == nil || def.Type() != "function_definition" || isAsync(def) {
			continue
		}
		if name := nodeName(def, src); name != "" && !strings.HasPrefix(name, "_") {
			methods = append(methods, name)
		}
	}
	return methods
}

func goAPI(src []byte) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, parser.SkipObjectResolution)
	if err != nil {
		return nil
	}

	var names []string
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *goast.FuncDecl:
			if !d.Name.IsExported() {
				continue
			}
			params := fieldNames(d.Type.Params)
			if d.Recv != nil && len(d.Recv.List) > 0 {
				names = append(names, fmt.Sprintf("func (%s) %s(%s)", recvType(d.Recv.List[0].Type), d.Name.Name, params))
				continue
			}
			names = append(names, fmt.Sprintf("func %s(%s)", d.Name.Name, params))
		case *goast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				if ts, ok := spec.(*goast.TypeSpec); ok && ts.Name.IsExported() {
					names = append(names, "type "+ts.Name.Name)
				}
			}
		}
	}
	return names
}

func fieldNames(fl *goast.FieldList) string {
	if fl == nil {
		return ""
	}
	var names []string
	for _, f := range fl.List {
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
	}
	return strings.Join(names, ", ")
}

func recvType(expr goast.Expr) string {
	switch t := expr.(type) {
	case *goast.StarExpr:
		return "*" + recvType(t.X)
	case *goast.Ident:
		return t.Name
	case *goast.IndexExpr:
		return recvType(t.X)
	case *goast.IndexListExpr:
		return recvType(t.X)
	default:
		return "?"
	}
}
