// Package verify runs the pre-execution checks on generated extraction
// scripts: a syntax check with tree-sitter, required imports, structural
// heuristics and a dry run that stops right after the browser opens a page.
package verify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"reconagent/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// SyntaxResult is the outcome of the syntax check.
type SyntaxResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Line  int    `json:"line,omitempty"`
}

// SyntaxChecker parses Python source with tree-sitter. A tree-sitter parser
// is not safe for concurrent use, so calls are serialized.
type SyntaxChecker struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewSyntaxChecker creates a Python syntax checker.
func NewSyntaxChecker() *SyntaxChecker {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &SyntaxChecker{parser: parser}
}

// Check parses code and reports the first ERROR or MISSING node.
func (c *SyntaxChecker) Check(ctx context.Context, code string) SyntaxResult {
	content := []byte(code)

	c.mu.Lock()
	tree, err := c.parser.ParseCtx(ctx, nil, content)
	c.mu.Unlock()
	if err != nil {
		logging.Get(logging.CategoryVerifyPlan).Warn("syntax parse failed: %v", err)
		return SyntaxResult{Error: fmt.Sprintf("Parsing error: %v", err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return SyntaxResult{Valid: true}
	}

	bad := firstErrorNode(root)
	if bad == nil {
		return SyntaxResult{Error: "Syntax error: unparseable input"}
	}
	line := int(bad.StartPoint().Row) + 1
	return SyntaxResult{
		Error: fmt.Sprintf("Syntax error at line %d: %s", line, describeErrorNode(bad, content)),
		Line:  line,
	}
}

// firstErrorNode does a pre-order walk, returning the earliest ERROR or
// MISSING node.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func describeErrorNode(n *sitter.Node, content []byte) string {
	if n.IsMissing() {
		return "missing " + n.Type()
	}
	text := strings.TrimSpace(n.Content(content))
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	if text == "" {
		return "invalid syntax"
	}
	return fmt.Sprintf("invalid syntax near %q", text)
}
