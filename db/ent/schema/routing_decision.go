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

var routingActions = []string{"approve_auto", "flag_review", "reject"}

var integrationStatuses = []string{"pending", "submitted", "approved", "failed"}

type RoutingDecision struct{ ent.Schema }

func (RoutingDecision) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "routing_decisions"},
	}
}

func (RoutingDecision) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("document_id", uuid.UUID{}),
		field.String("routing_action").
			Validate(utils.EnumValidator(routingActions...)),
		field.String("routing_reason").Default(""),
		field.String("integration_status").
			Default("pending").
			Validate(utils.EnumValidator(integrationStatuses...)),
		field.JSON("integration_data", json.RawMessage{}).Optional(),
		field.Bool("human_review_required").Default(false),
		field.Time("created_at").Default(time.Now),
	}
}

func (RoutingDecision) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("routing_decision").
			Field("document_id").
			Unique().
			Required(),
	}
}

func (RoutingDecision) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id").Unique(),
	}
}
