package cds

import (
	"context"
	"fmt"
)

// Interaction severities reported by a DrugInteractionLookup.
const (
	InteractionMinor           = "minor"
	InteractionModerate        = "moderate"
	InteractionMajor           = "major"
	InteractionContraindicated = "contraindicated"
)

// DrugInteraction is one interaction found among a set of drugs.
type DrugInteraction struct {
	Drugs       []string `json:"drugs"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
}

// DrugInteractionLookup checks a set of medication descriptions for
// interactions. Implementations should honour ctx cancellation.
type DrugInteractionLookup interface {
	CheckInteractions(ctx context.Context, drugs []string) ([]DrugInteraction, error)
}

// GuidelineLookup returns guideline recommendations for an ICD-10 code.
type GuidelineLookup interface {
	GetRecommendations(ctx context.Context, icd10 string) ([]Recommendation, error)
}

// DrugInteractionLookupFunc adapts a function to DrugInteractionLookup.
type DrugInteractionLookupFunc func(ctx context.Context, drugs []string) ([]DrugInteraction, error)

func (f DrugInteractionLookupFunc) CheckInteractions(ctx context.Context, drugs []string) ([]DrugInteraction, error) {
	return f(ctx, drugs)
}

// GuidelineLookupFunc adapts a function to GuidelineLookup.
type GuidelineLookupFunc func(ctx context.Context, icd10 string) ([]Recommendation, error)

func (f GuidelineLookupFunc) GetRecommendations(ctx context.Context, icd10 string) ([]Recommendation, error) {
	return f(ctx, icd10)
}

type lookupResult[T any] struct {
	val T
	err error
}

// awaitLookup runs fn and waits for it or for ctx, whichever finishes first,
// so a lookup that ignores its context still cannot stall an evaluation.
func awaitLookup[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan lookupResult[T], 1)
	go func() {
		var res lookupResult[T]
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("lookup panic: %v", r)
			}
			done <- res
		}()
		res.val, res.err = fn(ctx)
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
