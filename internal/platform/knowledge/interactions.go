package knowledge

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/domain/cds"
)

type interactionRequest struct {
	Drugs []string `json:"drugs"`
}

type interactionResponse struct {
	Interactions []cds.DrugInteraction `json:"interactions"`
}

// InteractionClient queries a drug-interaction service over HTTP:
// POST /interactions/check {"drugs": [...]} -> {"interactions": [...]}.
type InteractionClient struct {
	c *client
}

func NewInteractionClient(cfg ClientConfig, logger zerolog.Logger) *InteractionClient {
	return &InteractionClient{c: newClient("drug-interactions", cfg, logger)}
}

func (ic *InteractionClient) CheckInteractions(ctx context.Context, drugs []string) ([]cds.DrugInteraction, error) {
	var out interactionResponse
	err := ic.c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(interactionRequest{Drugs: drugs}).
			SetResult(&out).
			Post("/interactions/check")
	})
	if err != nil {
		return nil, err
	}
	return out.Interactions, nil
}
