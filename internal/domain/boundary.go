package domain

// BoundaryRecord maps one synthesized chunk's character range to its audio
// duration. Ordered by StartPosition the records for a chapter are gap-free
// and non-overlapping once every chunk has been synthesized.
type BoundaryRecord struct {
	ID              string  `json:"id"`
	StartPosition   int     `json:"start_position"`
	EndPosition     int     `json:"end_position"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Span returns the character length of the record's range.
func (r BoundaryRecord) Span() int {
	return r.EndPosition - r.StartPosition
}

// Contains reports whether pos falls inside the record's half-open range.
func (r BoundaryRecord) Contains(pos int) bool {
	return pos >= r.StartPosition && pos < r.EndPosition
}
