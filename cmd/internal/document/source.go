package document

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	docs "google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

// Source fetches documents on behalf of an authenticated user.
type Source interface {
	Fetch(ctx context.Context, accessToken, documentID string) (Document, error)
}

// GoogleSource reads documents through the Google Docs API.
type GoogleSource struct {
	opts []option.ClientOption
}

// NewGoogleSource constructs a Google Docs source. Extra client options are
// appended after the per-call token source (endpoint overrides, HTTP client).
func NewGoogleSource(opts ...option.ClientOption) *GoogleSource {
	return &GoogleSource{opts: opts}
}

// Fetch loads documentID with the caller's access token and converts it to a Document.
func (s *GoogleSource) Fetch(ctx context.Context, accessToken, documentID string) (Document, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Document{}, fmt.Errorf("%w: missing access token", ErrFetchFailed)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, s.opts...)

	svc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return Document{}, fmt.Errorf("%w: docs client: %v", ErrFetchFailed, err)
	}

	d, err := svc.Documents.Get(documentID).Context(ctx).Do()
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	return FromGoogle(d), nil
}

// FromGoogle converts a Docs API document into the closed node model.
func FromGoogle(d *docs.Document) Document {
	if d == nil {
		return Document{}
	}
	out := Document{ID: d.DocumentId, Title: d.Title}
	if d.Body != nil {
		out.Body = convertElements(d.Body.Content)
	}
	return out
}

func convertElements(in []*docs.StructuralElement) []Node {
	out := make([]Node, 0, len(in))
	for _, el := range in {
		if el == nil {
			continue
		}
		switch {
		case el.Paragraph != nil:
			out = append(out, convertParagraph(el.Paragraph))
		case el.Table != nil:
			out = append(out, convertTable(el.Table))
		case el.SectionBreak != nil:
			out = append(out, Opaque{Kind: "section_break"})
		case el.TableOfContents != nil:
			out = append(out, Opaque{Kind: "table_of_contents"})
		default:
			out = append(out, Opaque{Kind: "unknown"})
		}
	}
	return out
}

func convertParagraph(p *docs.Paragraph) Paragraph {
	runs := make([]TextRun, 0, len(p.Elements))
	for _, el := range p.Elements {
		if el == nil || el.TextRun == nil {
			continue
		}
		runs = append(runs, TextRun{Content: el.TextRun.Content})
	}
	return Paragraph{Elements: runs}
}

func convertTable(t *docs.Table) Table {
	rows := make([]TableRow, 0, len(t.TableRows))
	for _, r := range t.TableRows {
		if r == nil {
			continue
		}
		cells := make([]TableCell, 0, len(r.TableCells))
		for _, c := range r.TableCells {
			if c == nil {
				continue
			}
			cells = append(cells, TableCell{Content: convertElements(c.Content)})
		}
		rows = append(rows, TableRow{Cells: cells})
	}
	return Table{Rows: rows}
}
