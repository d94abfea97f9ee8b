package schema

import (
	"encoding/json"

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

var stageNames = []string{
	"preprocessing", "ocr_extraction", "llm_processing", "validation", "routing",
}

var stageStatuses = []string{"pending", "processing", "completed", "failed"}

type ProcessingStage struct{ ent.Schema }

func (ProcessingStage) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "processing_stages"},
	}
}

func (ProcessingStage) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("document_id", uuid.UUID{}),
		field.String("stage_name").NotEmpty().
			Validate(utils.EnumValidator(stageNames...)),
		field.String("status").
			Default("pending").
			Validate(utils.EnumValidator(stageStatuses...)),
		field.Time("started_at").Optional().Nillable(),
		field.Time("completed_at").Optional().Nillable(),
		field.String("error_message").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int64("processing_time_ms").Optional().Nillable(),
		field.JSON("metadata", json.RawMessage{}).Optional(),
	}
}

func (ProcessingStage) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("stages").
			Field("document_id").
			Unique().
			Required(),
	}
}

func (ProcessingStage) Indexes() []ent.Index {
	return []ent.Index{
		// One row per (document, stage); transitions update in place.
		index.Fields("document_id", "stage_name").Unique(),
	}
}
