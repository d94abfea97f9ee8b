package schema

import (
	"encoding/json"
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/db/ent/schema/utils"
)

var extractionStages = []string{"preprocessing", "ocr_extraction", "llm_processing"}

type ExtractionResult struct{ ent.Schema }

func (ExtractionResult) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "extraction_results"},
	}
}

func (ExtractionResult) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("document_id", uuid.UUID{}),
		field.String("stage").NotEmpty().
			Validate(utils.EnumValidator(extractionStages...)),
		field.JSON("raw_data", json.RawMessage{}).Optional(),
		field.JSON("processed_data", json.RawMessage{}).Optional(),
		field.Float("confidence_score").Default(0),
		field.Int64("processing_time_ms").Default(0),
		field.String("model_used").Default(""),
		field.JSON("metadata", json.RawMessage{}).Optional(),
		field.Time("created_at").Default(time.Now),
	}
}

func (ExtractionResult) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("extraction_results").
			Field("document_id").
			Unique().
			Required(),
	}
}

func (ExtractionResult) Indexes() []ent.Index {
	return []ent.Index{
		// Each write supersedes the prior result for that (document, stage).
		index.Fields("document_id", "stage").Unique(),
	}
}
