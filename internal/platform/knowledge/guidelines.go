package knowledge

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/domain/cds"
)

type guidelineResponse struct {
	Recommendations []cds.Recommendation `json:"recommendations"`
}

// GuidelineClient queries a guideline service over HTTP:
// GET /guidelines/{icd10} -> {"recommendations": [...]}.
type GuidelineClient struct {
	c *client
}

func NewGuidelineClient(cfg ClientConfig, logger zerolog.Logger) *GuidelineClient {
	return &GuidelineClient{c: newClient("guidelines", cfg, logger)}
}

func (gc *GuidelineClient) GetRecommendations(ctx context.Context, icd10 string) ([]cds.Recommendation, error) {
	var out guidelineResponse
	err := gc.c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("code", icd10).
			SetResult(&out).
			Get("/guidelines/{code}")
	})
	if err != nil {
		return nil, err
	}
	for i := range out.Recommendations {
		if out.Recommendations[i].ICD10Code == "" {
			out.Recommendations[i].ICD10Code = icd10
		}
	}
	return out.Recommendations, nil
}

// CachedGuidelines keeps recent recommendations per ICD-10 code in memory.
// Guidelines change rarely, so entries live until evicted.
type CachedGuidelines struct {
	next  cds.GuidelineLookup
	cache *lru.Cache[string, []cds.Recommendation]
}

func NewCachedGuidelines(next cds.GuidelineLookup, size int) (*CachedGuidelines, error) {
	cache, err := lru.New[string, []cds.Recommendation](size)
	if err != nil {
		return nil, fmt.Errorf("create guideline cache: %w", err)
	}
	return &CachedGuidelines{next: next, cache: cache}, nil
}

func (g *CachedGuidelines) GetRecommendations(ctx context.Context, icd10 string) ([]cds.Recommendation, error) {
	if recs, ok := g.cache.Get(icd10); ok {
		return clone(recs), nil
	}
	recs, err := g.next.GetRecommendations(ctx, icd10)
	if err != nil {
		return nil, err
	}
	g.cache.Add(icd10, clone(recs))
	return recs, nil
}

func clone(recs []cds.Recommendation) []cds.Recommendation {
	if recs == nil {
		return nil
	}
	return append([]cds.Recommendation(nil), recs...)
}
