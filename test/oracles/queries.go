package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_pending_offer_per_order",
			SQL: `SELECT order_id, COUNT(*) FROM offers
                  WHERE negotiation_status = 'pending'
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_decided_offers_have_response_time",
			SQL: `SELECT id FROM offers
                  WHERE negotiation_status IN ('accepted','declined')
                    AND responded_at IS NULL`,
		},
		{
			Name: "O3_paid_orders_left_pending",
			SQL: `SELECT id FROM orders
                  WHERE paid_at IS NOT NULL AND status = 'pending'`,
		},
		{
			Name: "O4_ongoing_requires_handoff_confirmation",
			SQL: `SELECT id FROM orders
                  WHERE status IN ('ongoing','completed','overdue')
                    AND ((kind = 'item' AND delivery_confirmed_at IS NULL)
                      OR (kind = 'service' AND service_started_at IS NULL))`,
		},
		{
			Name: "O5_completed_requires_closing_confirmation",
			SQL: `SELECT id FROM orders
                  WHERE status = 'completed'
                    AND ((kind = 'item' AND return_confirmed_at IS NULL)
                      OR (kind = 'service' AND service_completed_at IS NULL))`,
		},
		{
			Name: "O6_handoff_order_consistency",
			SQL: `SELECT id FROM orders
                  WHERE (return_confirmed_at IS NOT NULL AND delivery_confirmed_at IS NULL)
                     OR (service_completed_at IS NOT NULL AND service_started_at IS NULL)`,
		},
		{
			Name: "O7_outbox_liveness",
			SQL: `SELECT id::text FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now()-created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_xp_single_grant_per_order",
			SQL: `SELECT user_id, reason, order_id, COUNT(*) FROM xp_awards
                  WHERE order_id IS NOT NULL
                  GROUP BY user_id, reason, order_id HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
