package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

type SchemaRepository struct {
	db *sql.DB
}

func NewSchemaRepository(db *sql.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

// schemaPayload is the JSONB body of a schema row. Tables, rationale and
// suggestions travel together because refinement replaces them atomically.
type schemaPayload struct {
	Tables      []domain.SchemaTable `json:"tables"`
	Rationale   string               `json:"rationale,omitempty"`
	Suggestions []string             `json:"suggestions,omitempty"`
}

func (r *SchemaRepository) Save(ctx context.Context, schema *domain.DocumentSchema) error {
	payload, err := json.Marshal(schemaPayload{
		Tables:      schema.Tables,
		Rationale:   schema.Rationale,
		Suggestions: schema.Suggestions,
	})
	if err != nil {
		return fmt.Errorf("marshal schema payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO document_schemas (id, user_id, name, description, payload, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
	description = EXCLUDED.description,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at
`, schema.ID, schema.UserID, schema.Name, schema.Description, payload, schema.CreatedAt, schema.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert schema: %w", err)
	}
	return nil
}

func (r *SchemaRepository) GetByID(ctx context.Context, id string) (*domain.DocumentSchema, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, name, description, payload, created_at, updated_at
FROM document_schemas
WHERE id = $1
`, id)

	var schema domain.DocumentSchema
	var raw []byte
	err := row.Scan(&schema.ID, &schema.UserID, &schema.Name, &schema.Description, &raw, &schema.CreatedAt, &schema.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSchemaNotFound, "schemas.get", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan schema: %w", err)
	}

	var payload schemaPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal schema payload: %w", err)
	}
	schema.Tables = payload.Tables
	schema.Rationale = payload.Rationale
	schema.Suggestions = payload.Suggestions
	return &schema, nil
}
