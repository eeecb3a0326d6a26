package document

// Node is one structural unit of a document tree.
type Node interface {
	node()
}

// TextRun is a contiguous run of text. Content is copied verbatim into the
// extraction, including any trailing newline the provider emits.
type TextRun struct {
	Content string
}

// Paragraph is an ordered sequence of text runs.
type Paragraph struct {
	Elements []TextRun
}

// TableCell holds nested document content (paragraphs and tables).
type TableCell struct {
	Content []Node
}

// TableRow is an ordered sequence of cells.
type TableRow struct {
	Cells []TableCell
}

// Table is an ordered sequence of rows.
type Table struct {
	Rows []TableRow
}

// Opaque stands for a provider element that carries no extractable text
// (section breaks, tables of contents, element kinds added after this code).
type Opaque struct {
	Kind string
}

func (TextRun) node()   {}
func (Paragraph) node() {}
func (TableCell) node() {}
func (TableRow) node()  {}
func (Table) node()     {}
func (Opaque) node()    {}

// Document is a fetched document: top-level paragraphs and tables in source order.
type Document struct {
	ID    string
	Title string
	Body  []Node
}
