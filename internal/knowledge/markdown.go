package knowledge

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownText reduces a markdown document to its plain-text content by
// walking the parsed AST and collecting text segments. Formatting
// syntax (headings, emphasis, link targets) is discarded; the words the
// reader would see are kept, so keyword scoring treats .md and .txt
// documents alike.
func markdownText(source []byte) string {
	root := goldmark.New().Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			// Separate block-level nodes so words from adjacent
			// paragraphs don't concatenate.
			if n.Type() == ast.TypeBlock && sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}

		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(source))
			}
		case *ast.CodeSpan:
			// Inline code renders its own text children; nothing to do.
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(sb.String())
}
