package domain

import "time"

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldEnum    FieldType = "enum"
)

// SchemaField is one extractable column. JSON tags match the inference
// backend's schema envelope field-for-field.
type SchemaField struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Required     bool      `json:"required"`
	EnumValues   []string  `json:"enum_values,omitempty"`
	DisplayOrder int       `json:"display_order"`
}

type SchemaTable struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	DisplayOrder int           `json:"display_order"`
	Fields       []SchemaField `json:"fields"`
}

// DocumentSchema is the inferred tabular structure for a processing session.
// Created once by schema generation, mutated in place by refinement.
type DocumentSchema struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Tables      []SchemaTable `json:"tables"`
	Rationale   string        `json:"rationale"`
	Suggestions []string      `json:"suggestions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (s *DocumentSchema) TableCount() int {
	return len(s.Tables)
}

func (s *DocumentSchema) FieldCount() int {
	total := 0
	for _, table := range s.Tables {
		total += len(table.Fields)
	}
	return total
}

// ExtractionResult carries the values pulled out of one document against the
// approved schema: one record per table, one value per field, nil for absent
// data, plus an overall confidence in [0,1].
type ExtractionResult struct {
	DocumentID string                    `json:"document_id"`
	Records    map[string]map[string]any `json:"records"`
	Confidence float64                   `json:"confidence"`
}
