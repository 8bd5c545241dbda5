package models

import "time"

// ColumnInfo describes one column of a discovered tenant table.
type ColumnInfo struct {
	Name              string `json:"name"`
	NativeType        string `json:"native_type"`
	IsSearchable      bool   `json:"is_searchable"`
	IsFullTextIndexed bool   `json:"is_full_text_indexed"`
}

// FullTextIndex describes a native full-text index over one or more columns.
// Columns are ordered as defined by the index and unique within it.
type FullTextIndex struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableSchema is the discovered shape of one tenant table. It is produced on
// demand and never cached by the catalog itself.
type TableSchema struct {
	Database          string          `json:"database"`
	Table             string          `json:"table"`
	Columns           []ColumnInfo    `json:"columns"`
	FullTextIndexes   []FullTextIndex `json:"full_text_indexes"`
	EstimatedRowCount int64           `json:"estimated_row_count"`
	DiscoveredAt      time.Time       `json:"discovered_at"`
}

// HasFullTextIndex reports whether the table has at least one full-text index.
func (t *TableSchema) HasFullTextIndex() bool {
	return len(t.FullTextIndexes) > 0
}
