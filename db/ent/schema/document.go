package schema

import (
	"encoding/json"
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/db/ent/schema/utils"
)

var documentStatuses = []string{
	"uploaded", "preprocessing", "ocr_extraction", "llm_processing",
	"validation", "routing", "completed", "failed",
}

type Document struct{ ent.Schema }

func (Document) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "documents"},
	}
}

func (Document) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable().
			StorageKey("id"),
		field.String("filename").NotEmpty(),
		field.String("file_path").NotEmpty(),
		field.String("file_type").Default(""),
		field.Int64("file_size").Default(0),
		field.String("user_id").Default(""),
		field.String("status").
			Default("uploaded").
			Validate(utils.EnumValidator(documentStatuses...)),
		field.String("processing_stage").Optional().Nillable().
			Validate(utils.EnumValidator(documentStatuses...)),
		field.String("document_type").Optional().Nillable(),
		field.String("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.JSON("metadata", json.RawMessage{}).Optional(),
		field.Time("created_at").Default(time.Now),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Document) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("stages", ProcessingStage.Type),
		edge.To("extraction_results", ExtractionResult.Type),
		edge.To("quality_score", QualityScore.Type).Unique(),
		edge.To("routing_decision", RoutingDecision.Type).Unique(),
	}
}

func (Document) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id"),
		index.Fields("status"),
		index.Fields("created_at"),
	}
}
