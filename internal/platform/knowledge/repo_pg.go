package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cds/internal/domain/cds"
)

// InteractionRepoPG answers interaction lookups from the drug_interaction
// table. A row matches when its two medication names each appear in a
// different drug description.
type InteractionRepoPG struct {
	pool *pgxpool.Pool
}

func NewInteractionRepoPG(pool *pgxpool.Pool) *InteractionRepoPG {
	return &InteractionRepoPG{pool: pool}
}

const interactionQuery = `
	WITH meds AS (
		SELECT d, i FROM unnest($1::text[]) WITH ORDINALITY AS m(d, i)
	)
	SELECT DISTINCT di.medication_a_name, di.medication_b_name, di.severity, COALESCE(di.description, '')
	FROM drug_interaction di
	JOIN meds a ON a.d ILIKE '%' || di.medication_a_name || '%'
	JOIN meds b ON b.d ILIKE '%' || di.medication_b_name || '%' AND b.i <> a.i
	WHERE di.active
	ORDER BY 1, 2, 3`

func (r *InteractionRepoPG) CheckInteractions(ctx context.Context, drugs []string) ([]cds.DrugInteraction, error) {
	rows, err := r.pool.Query(ctx, interactionQuery, drugs)
	if err != nil {
		return nil, fmt.Errorf("query drug interactions: %w", err)
	}
	defer rows.Close()
	var out []cds.DrugInteraction
	for rows.Next() {
		var a, b string
		var in cds.DrugInteraction
		if err := rows.Scan(&a, &b, &in.Severity, &in.Description); err != nil {
			return nil, err
		}
		in.Drugs = []string{a, b}
		out = append(out, in)
	}
	return out, rows.Err()
}
