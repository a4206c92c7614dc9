package harvest

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"

	"github.com/use-agent/changehub/models"
)

// idSuffix matches the trailing row number of ids like "DetailsRow-42".
var idSuffix = regexp.MustCompile(`-(\d+)$`)

// parseIdentity derives a row identity from its positional attribute,
// falling back to the element id's numeric suffix. A positional attribute
// that is present but not a number makes the row unresolvable.
func parseIdentity(index, elementID string) (int, bool) {
	if index == "" {
		m := idSuffix.FindStringSubmatch(elementID)
		if m == nil {
			return 0, false
		}
		index = m[1]
	}
	n, err := strconv.Atoi(index)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// resolveIdentity reads the attributes parseIdentity needs from row.
func (h *Harvester) resolveIdentity(ctx context.Context, row Element) (int, bool) {
	index, err := row.Attribute(ctx, h.cfg.Selectors.RowIndexAttr)
	if err != nil {
		h.log.Debug("row index attribute unreadable", "error", err)
		return 0, false
	}
	var elementID string
	if index == "" {
		if elementID, err = row.Attribute(ctx, "id"); err != nil {
			return 0, false
		}
	}
	return parseIdentity(index, elementID)
}

// snapshot reads the row's cells into a RawRow and returns the row title
// used for pane matching. A failing cell ends the snapshot early; the row
// keeps whatever was read before the failure.
func (h *Harvester) snapshot(ctx context.Context, row Element, id int) (models.RawRow, string) {
	sel := h.cfg.Selectors
	cellSel := sel.RowCell
	if sel.RowFields != "" {
		cellSel = sel.RowFields + " " + sel.RowCell
	}

	fields := make(map[string]string)
	cells, err := row.Elements(ctx, cellSel)
	if err != nil {
		h.log.Warn("could not enumerate row cells", "row", id, "error", err)
	}
	for i, cell := range cells {
		key, err := cell.Attribute(ctx, sel.CellKeyAttr)
		if err != nil {
			h.log.Warn("cell read failed, keeping partial row", "row", id, "cell", i, "error", err)
			break
		}
		if key == "" {
			key = fmt.Sprintf("col%d", i)
		}
		text, err := cell.Text(ctx)
		if err != nil {
			h.log.Warn("cell read failed, keeping partial row", "row", id, "cell", i, "error", err)
			break
		}
		fields[key] = strings.TrimSpace(text)
	}

	title := fields[h.cfg.TitleKey]
	return models.RawRow{Identity: id, Fields: applyMapping(fields, h.cfg.FieldMapping)}, title
}

// applyMapping renames raw cell keys to logical field names. Mapped raw
// keys are dropped; unmapped keys pass through unchanged.
func applyMapping(raw, mapping map[string]string) map[string]string {
	if len(mapping) == 0 {
		return maps.Clone(raw)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if logical, ok := mapping[k]; ok && logical != "" {
			out[logical] = v
			continue
		}
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}
