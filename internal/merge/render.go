package merge

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veridocs/consolidator/internal/model"
)

// render produces the body content for doc.Format. Provenance is included
// in the json/yaml tree only when includeProvenance is set; markdown never
// inlines provenance (it is returned separately via the tool response's
// provenance_map).
func render(doc model.MergedDocument, includeProvenance bool) (string, error) {
	switch doc.Format {
	case model.OutputMarkdown, "":
		return renderMarkdown(doc), nil
	case model.OutputJSON:
		return renderJSON(doc, includeProvenance)
	case model.OutputYAML:
		return renderYAML(doc, includeProvenance)
	default:
		return "", fmt.Errorf("merge: unknown output format %q", doc.Format)
	}
}

func renderMarkdown(doc model.MergedDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	for _, s := range doc.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Header)
		for _, bullet := range s.Bullets {
			fmt.Fprintf(&b, "- %s\n", bullet.Text)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

type treeSection struct {
	Header  string        `json:"header" yaml:"header"`
	Bullets []treeBullet  `json:"bullets" yaml:"bullets"`
}

type treeBullet struct {
	Text       string             `json:"text" yaml:"text"`
	Provenance *model.Provenance  `json:"provenance,omitempty" yaml:"provenance,omitempty"`
}

type tree struct {
	Title    string        `json:"title" yaml:"title"`
	Sections []treeSection `json:"sections" yaml:"sections"`
}

func buildTree(doc model.MergedDocument, includeProvenance bool) tree {
	t := tree{Title: doc.Title}
	for _, s := range doc.Sections {
		ts := treeSection{Header: s.Header}
		for _, bullet := range s.Bullets {
			tb := treeBullet{Text: bullet.Text}
			if includeProvenance {
				p := bullet.Provenance
				tb.Provenance = &p
			}
			ts.Bullets = append(ts.Bullets, tb)
		}
		t.Sections = append(t.Sections, ts)
	}
	return t
}

func renderJSON(doc model.MergedDocument, includeProvenance bool) (string, error) {
	b, err := json.MarshalIndent(buildTree(doc, includeProvenance), "", "  ")
	if err != nil {
		return "", fmt.Errorf("merge: marshal json: %w", err)
	}
	return string(b), nil
}

func renderYAML(doc model.MergedDocument, includeProvenance bool) (string, error) {
	b, err := yaml.Marshal(buildTree(doc, includeProvenance))
	if err != nil {
		return "", fmt.Errorf("merge: marshal yaml: %w", err)
	}
	return string(b), nil
}
