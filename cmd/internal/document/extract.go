package document

import "strings"

// Extract flattens doc into a single string.
//
// Traversal is depth-first and left-to-right in source order, driven by an
// explicit stack so nesting depth is bounded only by the input. Nothing is
// inserted between runs. Opaque and nil nodes contribute no text.
func Extract(doc Document) string {
	var b strings.Builder

	stack := make([]Node, 0, len(doc.Body))
	stack = pushReversed(stack, doc.Body)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch v := n.(type) {
		case TextRun:
			b.WriteString(v.Content)
		case Paragraph:
			for _, run := range v.Elements {
				b.WriteString(run.Content)
			}
		case Table:
			for i := len(v.Rows) - 1; i >= 0; i-- {
				stack = append(stack, v.Rows[i])
			}
		case TableRow:
			for i := len(v.Cells) - 1; i >= 0; i-- {
				stack = append(stack, v.Cells[i])
			}
		case TableCell:
			stack = pushReversed(stack, v.Content)
		case Opaque, nil:
		}
	}

	return b.String()
}

func pushReversed(stack []Node, nodes []Node) []Node {
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	return stack
}
