package constants

// QualityDecision is the validation stage's verdict on extracted data.
type QualityDecision string

const (
	DecisionApproved       QualityDecision = "APPROVED"
	DecisionReviewRequired QualityDecision = "REVIEW_REQUIRED"
	DecisionRejected       QualityDecision = "REJECTED"
)

// RoutingAction is what the routing stage decided to do with the document.
type RoutingAction string

const (
	ActionApproveAuto RoutingAction = "approve_auto"
	ActionFlagReview  RoutingAction = "flag_review"
	ActionReject      RoutingAction = "reject"
)

// IntegrationStatus tracks hand-off to the downstream warehouse system.
type IntegrationStatus string

const (
	IntegrationPending   IntegrationStatus = "pending"
	IntegrationSubmitted IntegrationStatus = "submitted"
	IntegrationApproved  IntegrationStatus = "approved"
	IntegrationFailed    IntegrationStatus = "failed"
)

// DocumentTypes holds the known document-type classifications.
var DocumentTypes = []string{"invoice", "receipt", "bill_of_lading", "purchase_order", "other"}
