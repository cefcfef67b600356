package core

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/tabular"
)

// DefaultLinkColumn holds the parent row number when a split has no link
// column. It becomes ParentIDColumn when the fragment column is already
// named id.
const DefaultLinkColumn = "id"

// ParentIDColumn replaces DefaultLinkColumn when the fragment column is id.
const ParentIDColumn = "parent_id"

// ParentControlColumn holds the parent's control id when a split links on
// control_id, since the child carries its own control_id.
const ParentControlColumn = "parent_control_id"

// childLinkColumn names the child column holding the link value for a
// prepared spec whose fragment column is frag.
func childLinkColumn(spec SplitSpec, frag string) string {
	switch spec.LinkColumn {
	case "":
		if frag == DefaultLinkColumn {
			return ParentIDColumn
		}
		return DefaultLinkColumn
	case ident.ControlColumn:
		return ParentControlColumn
	default:
		return spec.LinkColumn
	}
}

// ZipSplitSpecs builds one SplitSpec per column from the parallel lists used
// by batch descriptors and CLI flags. delimiters must match columns in
// length; links and renames may be empty or match as well.
func ZipSplitSpecs(childTable string, columns, delimiters, links, renames []string) ([]SplitSpec, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	if len(delimiters) != len(columns) {
		return nil, &SplitFormatError{Reason: lengthReason("delimiters", len(delimiters), len(columns))}
	}
	if len(links) != 0 && len(links) != len(columns) {
		return nil, &SplitFormatError{Reason: lengthReason("link columns", len(links), len(columns))}
	}
	if len(renames) != 0 && len(renames) != len(columns) {
		return nil, &SplitFormatError{Reason: lengthReason("renames", len(renames), len(columns))}
	}

	specs := make([]SplitSpec, len(columns))
	for i, col := range columns {
		specs[i] = SplitSpec{Column: col, Delimiter: delimiters[i], ChildTable: childTable}
		if len(links) > 0 {
			specs[i].LinkColumn = links[i]
		}
		if len(renames) > 0 {
			specs[i].RenameTo = renames[i]
		}
	}
	return specs, nil
}

// ParseSplitFlag parses the compact form column:delimiter:child[:link[:rename]]
// used by the CLI and HTTP query strings. The delimiter cannot be ":".
func ParseSplitFlag(v string) (SplitSpec, error) {
	parts := strings.Split(v, ":")
	if len(parts) < 3 || len(parts) > 5 {
		return SplitSpec{}, &SplitFormatError{Reason: fmt.Sprintf("%q is not column:delimiter:child[:link[:rename]]", v)}
	}
	spec := SplitSpec{Column: parts[0], Delimiter: parts[1], ChildTable: parts[2]}
	if len(parts) > 3 {
		spec.LinkColumn = parts[3]
	}
	if len(parts) > 4 {
		spec.RenameTo = parts[4]
	}
	if spec.Column == "" || spec.Delimiter == "" || spec.ChildTable == "" {
		return SplitSpec{}, &SplitFormatError{Column: spec.Column, Reason: fmt.Sprintf("%q has an empty column, delimiter or child table", v)}
	}
	return spec, nil
}

func lengthReason(what string, got, want int) string {
	return fmt.Sprintf("%s list has %d entries for %d columns", what, got, want)
}

// prepareSplits normalizes the identifiers of every spec and checks them
// against the parent's normalized columns.
func prepareSplits(parent string, columns []string, specs []SplitSpec) ([]SplitSpec, error) {
	have := make(map[string]bool, len(columns)+1)
	for _, c := range columns {
		have[c] = true
	}
	have[ident.ControlColumn] = true

	out := make([]SplitSpec, len(specs))
	for i, spec := range specs {
		col := ident.Normalize(spec.Column)
		if col == "" {
			return nil, &SplitFormatError{Column: spec.Column, Reason: "column name is empty"}
		}
		if !have[col] || col == ident.ControlColumn {
			return nil, &SplitFormatError{Column: spec.Column, Reason: "column not present in input"}
		}
		if spec.Delimiter == "" {
			return nil, &SplitFormatError{Column: spec.Column, Reason: "delimiter is empty"}
		}
		if strings.TrimSpace(spec.ChildTable) == "" {
			return nil, &SplitFormatError{Column: spec.Column, Reason: "child table is required"}
		}
		child, err := ident.TableName(spec.ChildTable)
		if err != nil {
			return nil, err
		}
		if child == parent {
			return nil, &SplitFormatError{Column: spec.Column, Reason: "child table must differ from " + parent}
		}

		var link string
		if spec.LinkColumn != "" {
			link = ident.Normalize(spec.LinkColumn)
			if !have[link] {
				return nil, &SplitFormatError{Column: spec.Column, Reason: "link column " + spec.LinkColumn + " not present in input"}
			}
		}

		frag := col
		if spec.RenameTo != "" {
			frag = ident.Normalize(spec.RenameTo)
			if frag == "" {
				return nil, &SplitFormatError{Column: spec.Column, Reason: "rename is empty after normalization"}
			}
		}

		prepared := SplitSpec{Column: col, Delimiter: spec.Delimiter, ChildTable: child, LinkColumn: link, RenameTo: frag}
		if frag == ident.ControlColumn || frag == childLinkColumn(prepared, frag) {
			return nil, &SplitFormatError{Column: spec.Column, Reason: "fragment column " + frag + " collides with another child column"}
		}
		out[i] = prepared
	}
	return out, nil
}

// Explode produces the child table for one split. spec must have been
// prepared against parent's columns. Child rows are tagged with controlID
// and ordered by parent row, then by fragment position.
func Explode(parent *tabular.Table, spec SplitSpec, controlID string) (*tabular.Table, error) {
	if spec.Delimiter == "" {
		return nil, &SplitFormatError{Column: spec.Column, Reason: "delimiter is empty"}
	}
	if !parent.HasColumn(spec.Column) {
		return nil, &SplitFormatError{Column: spec.Column, Reason: "column not present in input"}
	}

	if spec.LinkColumn != "" && !parent.HasColumn(spec.LinkColumn) {
		return nil, &SplitFormatError{Column: spec.Column, Reason: "link column " + spec.LinkColumn + " not present in input"}
	}
	frag := spec.RenameTo
	if frag == "" {
		frag = spec.Column
	}
	link := childLinkColumn(spec, frag)
	if frag == ident.ControlColumn || frag == link {
		return nil, &SplitFormatError{Column: spec.Column, Reason: "fragment column " + frag + " collides with another child column"}
	}

	child := tabular.New(ident.ControlColumn, link, frag)
	for i, row := range parent.Rows {
		cell := row[spec.Column]
		if cell == nil {
			continue
		}
		text := tabular.FormatCell(cell)
		if text == "" {
			continue
		}

		var linkValue any = int64(i + 1)
		if spec.LinkColumn != "" {
			linkValue = row[spec.LinkColumn]
		}

		for _, part := range strings.Split(text, spec.Delimiter) {
			if part == "" {
				continue
			}
			child.Rows = append(child.Rows, tabular.Row{
				ident.ControlColumn: controlID,
				link:                linkValue,
				frag:                part,
			})
		}
	}
	return child, nil
}
