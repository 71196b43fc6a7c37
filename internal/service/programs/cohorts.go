package programs

import (
	"context"
	"log"
)

// CohortTransitioner runs the periodic cohort lifecycle transition:
// every active membership whose cohort end date has passed is flipped to
// completed in one bulk statement. Re-running against unchanged data
// changes zero rows, so concurrent and repeated runs are harmless.
type CohortTransitioner struct {
	repo Repository
}

// NewCohortTransitioner creates the transition job over the repository.
func NewCohortTransitioner(repo Repository) *CohortTransitioner {
	return &CohortTransitioner{repo: repo}
}

// Run executes the bulk transition and returns the rows changed.
func (t *CohortTransitioner) Run(ctx context.Context) (int, error) {
	n, err := t.repo.RunCohortTransition(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[CohortTransition] Completed %d expired memberships", n)
	}
	return n, nil
}
