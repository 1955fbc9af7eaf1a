package feishu

import "encoding/json"

// Field names read by convention from every record. Changing them is a
// schema change on the Bitable side.
const (
	MainTitleField = "封面主文案"
	SubTitleField  = "封面副文案"

	// DefaultImageField is the attachment field written on import when the
	// user configuration leaves it empty.
	DefaultImageField = "封面图片"
)

// Record is a raw Bitable record.
type Record struct {
	RecordID string                     `json:"record_id"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

// Cover is the normalized text of one record.
type Cover struct {
	RecordID  string                     `json:"recordId"`
	MainTitle string                     `json:"mainTitle"`
	SubTitle  string                     `json:"subTitle"`
	RawFields map[string]json.RawMessage `json:"rawFields"`
}

// ExtractCovers flattens the main and sub title of each record. It never
// fails; unknown shapes become empty strings.
func ExtractCovers(records []Record) []Cover {
	covers := make([]Cover, 0, len(records))
	for _, r := range records {
		fields := r.Fields
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
		covers = append(covers, Cover{
			RecordID:  r.RecordID,
			MainTitle: ParseFieldValue(fields[MainTitleField]).Flatten(),
			SubTitle:  ParseFieldValue(fields[SubTitleField]).Flatten(),
			RawFields: fields,
		})
	}
	return covers
}
