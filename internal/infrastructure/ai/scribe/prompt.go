package scribe

import (
	"fmt"
	"strings"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

// PromptBuilder constructs the tagged request payloads for the three
// inference operations. Builders are pure; auditing happens at dispatch.
type PromptBuilder struct {
	model string
}

func NewPromptBuilder(model string) *PromptBuilder {
	return &PromptBuilder{model: model}
}

const transcriptionInstructions = `You are a handwriting transcription specialist. Transcribe the complete text of every page image, preserving the document's structure. Do not summarize or omit anything.

Formatting conventions:
- Use markdown headers (#, ##) for section titles.
- Use markdown lists for enumerated or bulleted items.
- Use markdown tables for tabular content.
- Mark unreadable passages with [illegible].
- Keep the original reading order across pages.
- Precede each page's text with a line containing exactly "--- page N ---".

Return strict JSON: {"transcription": "<full markdown text>"} with no extra keys.`

// Transcription builds the structure-preserving transcription request over
// the document's rendered page images.
func (b *PromptBuilder) Transcription(doc *domain.Document, pages []domain.DocumentPage) domain.Prompt {
	var sb strings.Builder
	sb.WriteString(transcriptionInstructions)
	sb.WriteString("\n\nDocument: ")
	sb.WriteString(doc.Name)
	sb.WriteString(fmt.Sprintf(" (%d pages)\n", len(pages)))
	for _, page := range pages {
		sb.WriteString(fmt.Sprintf("Page %d image: %s\n", page.PageNumber, page.ImagePath))
	}

	return domain.Prompt{
		Operation:   domain.OpTranscribe,
		Model:       b.model,
		DocumentIDs: []string{doc.ID},
		Text:        sb.String(),
	}
}

const schemaEnvelopeSpec = `Return strict JSON with exactly this shape:
{"schema": {
  "name": "<schema name>",
  "description": "<one paragraph>",
  "tables": [{
    "name": "<table name>",
    "description": "<optional>",
    "display_order": <int starting at 0>,
    "fields": [{
      "name": "<field name>",
      "type": "string" | "number" | "boolean" | "date" | "enum",
      "required": <bool>,
      "enum_values": ["..."] (only for enum),
      "display_order": <int starting at 0>
    }]
  }],
  "rationale": "<why this structure fits the documents>",
  "suggestions": ["<3 to 5 concrete improvement suggestions>"]
}}`

// SchemaGeneration builds the single batch request over every transcribed
// document: transcripts in, tables/fields with rationale and suggestions out.
func (b *PromptBuilder) SchemaGeneration(docs []domain.Document) domain.Prompt {
	ids := make([]string, 0, len(docs))
	var sb strings.Builder
	sb.WriteString("You are a data modeling specialist. Analyze the transcribed documents below and design a relational schema of tables and fields that captures their recurring data. Mark fields required only when they appear in every document.\n\n")
	sb.WriteString(schemaEnvelopeSpec)
	sb.WriteString("\n\n")
	for i := range docs {
		doc := &docs[i]
		ids = append(ids, doc.ID)
		sb.WriteString(fmt.Sprintf("--- Document %s (%s) ---\n%s\n\n", doc.ID, doc.Name, doc.Transcription))
	}

	return domain.Prompt{
		Operation:   domain.OpGenerateSchema,
		Model:       b.model,
		DocumentIDs: ids,
		Text:        sb.String(),
	}
}

// SchemaRefinement routes a change request through the generation operation:
// the current schema plus the user's feedback in, a full replacement schema
// out, same envelope.
func (b *PromptBuilder) SchemaRefinement(schema *domain.DocumentSchema, feedback string) domain.Prompt {
	var sb strings.Builder
	sb.WriteString("You are refining an existing extraction schema. Apply the requested changes and return the complete revised schema; keep everything the user did not ask to change.\n\n")
	sb.WriteString(schemaEnvelopeSpec)
	sb.WriteString("\n\nCurrent schema:\n")
	writeSchema(&sb, schema)
	sb.WriteString("\nRequested changes:\n")
	sb.WriteString(feedback)

	return domain.Prompt{
		Operation: domain.OpGenerateSchema,
		Model:     b.model,
		Text:      sb.String(),
	}
}

// DataExtraction embeds the approved schema verbatim and asks for one value
// per field per table, null for absent data, plus an overall confidence.
func (b *PromptBuilder) DataExtraction(doc *domain.Document, schema *domain.DocumentSchema) domain.Prompt {
	var sb strings.Builder
	sb.WriteString("You are a data extraction specialist. Fill the schema below from the document transcript. Provide one value per field per table; use null when the document does not contain the data. Never invent values.\n\n")
	sb.WriteString(`Return strict JSON: {"records": {"<table name>": {"<field name>": <value or null>}}, "confidence": <number between 0 and 1>}`)
	sb.WriteString("\n\nSchema:\n")
	writeSchema(&sb, schema)
	sb.WriteString(fmt.Sprintf("\n--- Document %s (%s) ---\n%s\n", doc.ID, doc.Name, doc.Transcription))

	return domain.Prompt{
		Operation:   domain.OpExtractData,
		Model:       b.model,
		DocumentIDs: []string{doc.ID},
		Text:        sb.String(),
	}
}

func writeSchema(sb *strings.Builder, schema *domain.DocumentSchema) {
	sb.WriteString(fmt.Sprintf("Schema %q: %s\n", schema.Name, schema.Description))
	for _, table := range schema.Tables {
		sb.WriteString(fmt.Sprintf("Table %q", table.Name))
		if table.Description != "" {
			sb.WriteString(": " + table.Description)
		}
		sb.WriteString("\n")
		for _, field := range table.Fields {
			required := "optional"
			if field.Required {
				required = "required"
			}
			sb.WriteString(fmt.Sprintf("  - %s (%s, %s)", field.Name, field.Type, required))
			if len(field.EnumValues) > 0 {
				sb.WriteString(" values: " + strings.Join(field.EnumValues, ", "))
			}
			sb.WriteString("\n")
		}
	}
}
