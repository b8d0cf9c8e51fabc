package dao

import (
	"context"
)

// CountFunc returns a row count. Estimate functions return ok=false when the
// engine has no usable estimate (for example a never analyzed table).
type (
	EstimateFunc func(ctx context.Context) (n int64, ok bool, err error)
	CountFunc    func(ctx context.Context) (int64, error)
)

// CountResult is the outcome of the ESTIMATE_COUNT step.
type CountResult struct {
	Total        int64
	LargeDataset bool
}

// ResolveCount runs the estimate, and the exact count only when the estimate is
// below threshold. A failing or missing estimate falls through to the exact
// count; an estimate at or above threshold is returned as the total with
// LargeDataset set.
func ResolveCount(ctx context.Context, threshold int64, estimate EstimateFunc, exact CountFunc) (CountResult, error) {
	if estimate != nil {
		n, ok, err := estimate(ctx)
		if err == nil && ok && IsLargeDataset(n, threshold) {
			return CountResult{Total: n, LargeDataset: true}, nil
		}
	}
	n, err := exact(ctx)
	if err != nil {
		return CountResult{}, err
	}
	return CountResult{Total: n}, nil
}

// IsLargeDataset reports whether an estimate meets or exceeds threshold.
func IsLargeDataset(estimate, threshold int64) bool {
	return threshold > 0 && estimate >= threshold
}

// NewPagination computes pagination metadata. lastPage is at least 1.
func NewPagination(total int64, page, perPage int) Pagination {
	last := 1
	if perPage > 0 && total > 0 {
		last = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return Pagination{
		Total:       total,
		LastPage:    last,
		PerPage:     perPage,
		CurrentPage: page,
	}
}

// Offset returns the row offset of page.
func Offset(page, perPage int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * perPage
}

// GuardStream refuses to stream when the estimate marks a large dataset.
func GuardStream(ctx context.Context, threshold int64, estimate EstimateFunc) error {
	if estimate == nil {
		return nil
	}
	n, ok, err := estimate(ctx)
	if err != nil || !ok {
		return nil
	}
	if IsLargeDataset(n, threshold) {
		return ErrTooLargeToStream
	}
	return nil
}
