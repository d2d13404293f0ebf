package infrastructure

import (
	"time"

	"github.com/resolveit/platform/internal/case/domain"
)

func statusMutation(status domain.CaseStatus) domain.TransitionFunc {
	return func(*domain.Case) (domain.Mutation, error) {
		return domain.Mutation{Status: status, Trigger: domain.TriggerStatusUpdate}, nil
	}
}

func responseMutation(agreed bool, respondedAt time.Time) domain.TransitionFunc {
	return func(*domain.Case) (domain.Mutation, error) {
		return domain.Mutation{Response: &domain.Response{Agreed: agreed, RespondedAt: respondedAt}}, nil
	}
}
