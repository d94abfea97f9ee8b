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

var qualityDecisions = []string{"APPROVED", "REVIEW_REQUIRED", "REJECTED"}

type QualityScore struct{ ent.Schema }

func (QualityScore) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "quality_scores"},
	}
}

func (QualityScore) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("document_id", uuid.UUID{}),
		field.Float("overall_score").Default(0),
		field.Float("completeness_score").Default(0),
		field.Float("accuracy_score").Default(0),
		field.Float("compliance_score").Default(0),
		field.Float("quality_score").Default(0),
		field.String("decision").
			Validate(utils.EnumValidator(qualityDecisions...)),
		field.JSON("reasoning", json.RawMessage{}).Optional(),
		field.JSON("issues_found", json.RawMessage{}).Optional(),
		field.Float("confidence").Default(0),
		field.String("judge_model").Default(""),
		field.Time("created_at").Default(time.Now),
	}
}

func (QualityScore) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("quality_score").
			Field("document_id").
			Unique().
			Required(),
	}
}

func (QualityScore) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id").Unique(),
	}
}
