package gaoding

import (
	"strconv"

	"github.com/hazyhaar/coverbridge/feishu"
)

// PageLabel returns the page cell for the i-th (zero-based) design.
func PageLabel(i int) string {
	return "页面" + strconv.Itoa(i+1)
}

// RowsFromCovers maps covers to export rows in record order. The subtitle is
// always carried, even when empty, so the third column stays aligned.
func RowsFromCovers(covers []feishu.Cover) []ExportRow {
	rows := make([]ExportRow, len(covers))
	for i, c := range covers {
		sub := c.SubTitle
		rows[i] = ExportRow{
			Page:  PageLabel(i),
			Text1: c.MainTitle,
			Text2: &sub,
		}
	}
	return rows
}
