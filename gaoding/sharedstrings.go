package gaoding

// SharedStrings is the deduplicating string pool behind xl/sharedStrings.xml.
// Each distinct value gets the zero-based index of its first insertion, and
// cells reference values by that index only.
type SharedStrings struct {
	values []string
	index  map[string]int
}

// NewSharedStrings returns an empty table.
func NewSharedStrings() *SharedStrings {
	return &SharedStrings{index: make(map[string]int)}
}

// Add inserts s if it is new and returns its index either way.
func (t *SharedStrings) Add(s string) int {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := len(t.values)
	t.index[s] = i
	t.values = append(t.values, s)
	return i
}

// Index returns the index of s and whether it is present.
func (t *SharedStrings) Index(s string) (int, bool) {
	i, ok := t.index[s]
	return i, ok
}

// Len returns the number of distinct strings.
func (t *SharedStrings) Len() int { return len(t.values) }

// Strings returns the values in insertion order. The slice must not be modified.
func (t *SharedStrings) Strings() []string { return t.values }
