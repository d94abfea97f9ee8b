package pipeline

import "github.com/aodunsi/docpipeline/constants"

// DefaultValidationOutput is the conservative verdict recorded when the
// validation backend is unreachable after retries: zero scores and a forced
// human review, never an approval.
func DefaultValidationOutput(reason string) *ValidationOutput {
	return &ValidationOutput{
		Decision:    constants.DecisionReviewRequired,
		IssuesFound: []string{"validation unavailable: " + reason},
		Reasoning:   map[string]any{"defaulted": true, "reason": reason},
	}
}

// DefaultRoutingOutput is the conservative routing recorded when the routing
// backend is unreachable after retries: flag for review, never auto-approve.
func DefaultRoutingOutput(reason string) *RoutingOutput {
	return &RoutingOutput{
		Action:              constants.ActionFlagReview,
		Reason:              "routing unavailable: " + reason,
		IntegrationStatus:   constants.IntegrationPending,
		IntegrationData:     map[string]any{"defaulted": true},
		HumanReviewRequired: true,
	}
}
