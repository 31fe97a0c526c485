package engine

import (
	"context"

	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/pkg/planner"
)

// resourceCredentialResolver adapts the resource store to
// planner.CredentialResolver (§4.1 rule 7): a resource is visible to a
// principal exactly when it exists and that principal owns it. It never
// exposes credential material itself — only a yes/no visibility answer,
// matching §9's "credential indirection" design note.
type resourceCredentialResolver struct {
	repo repository.ResourceRepository
}

// NewCredentialResolver wraps a ResourceRepository as a planner.CredentialResolver.
func NewCredentialResolver(repo repository.ResourceRepository) planner.CredentialResolver {
	return &resourceCredentialResolver{repo: repo}
}

func (r *resourceCredentialResolver) Visible(ctx context.Context, principal, resourceID string) (bool, error) {
	resource, err := r.repo.GetByID(ctx, resourceID)
	if err != nil {
		return false, nil //nolint:nilerr // not-found is "not visible", not a plan-builder infra error
	}
	if resource == nil {
		return false, nil
	}
	if principal == "" {
		return true, nil
	}
	return resource.GetOwnerID() == principal, nil
}
