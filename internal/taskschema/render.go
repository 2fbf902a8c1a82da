package taskschema

import (
	"encoding/json"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// schemaElement is the JSON shape written for --schema.
type schemaElement struct {
	Element string        `json:"element"`
	Params  []schemaParam `json:"params,omitempty"`
}

type schemaParam struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Optional   bool     `json:"optional"`
	EnumValues []string `json:"enumValues,omitempty"`
}

// WriteJSON serializes the registry's task vocabulary to w, for --schema.
func (r *Registry) WriteJSON(w io.Writer) error {
	elements := make([]schemaElement, 0, len(r.order))
	for _, name := range r.order {
		desc := r.tasks[name]
		se := schemaElement{Element: desc.Element}
		for _, p := range desc.Params {
			se.Params = append(se.Params, schemaParam{
				Name:       p.Name,
				Kind:       p.Kind.String(),
				Optional:   p.Optional,
				EnumValues: p.EnumValues,
			})
		}
		elements = append(elements, se)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		StructuralElements []string        `json:"structuralElements"`
		Tasks              []schemaElement `json:"tasks"`
	}{StructuralElements: StructuralElements, Tasks: elements})
}

// WriteMarkdown renders one parameter table per registered task, for
// --documentation.
func (r *Registry) WriteMarkdown(w io.Writer) error {
	for _, name := range r.order {
		desc := r.tasks[name]
		if _, err := io.WriteString(w, "## "+desc.Element+"\n\n"); err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.AppendHeader(table.Row{"Name", "Kind", "Optional", "Enum values"})
		for _, p := range desc.Params {
			t.AppendRow(table.Row{p.Name, p.Kind.String(), p.Optional, p.EnumValues})
		}
		t.RenderMarkdown()
		if _, err := io.WriteString(w, "\n\n"); err != nil {
			return err
		}
	}
	return nil
}
