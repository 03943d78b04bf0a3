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
			Name: "O1_funded_implies_covered",
			SQL: `SELECT e.id FROM escrows e
                  WHERE e.funded_at IS NOT NULL
                    AND (SELECT COALESCE(SUM(d.amount), 0) FROM escrow_deposits d
                         WHERE d.escrow_id = e.id) < e.requested_amount`,
		},
		{
			Name: "O2_delivered_implies_both_confirmed",
			SQL: `SELECT id FROM escrows
                  WHERE status = 'delivered'
                    AND NOT (creator_confirmed AND counterparty_confirmed)`,
		},
		{
			Name: "O3_event_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT escrow_id, seq,
                             LAG(seq) OVER (PARTITION BY escrow_id ORDER BY seq) AS prev
                      FROM escrow_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O4_resolved_dispute_terminal_escrow",
			SQL: `SELECT d.id FROM disputes d
                  JOIN escrows e ON e.id = d.escrow_id
                  WHERE d.status = 'resolved'
                    AND e.status NOT IN ('released', 'refunded')`,
		},
		{
			Name: "O5_one_open_dispute",
			SQL: `SELECT escrow_id, COUNT(*) FROM disputes
                  WHERE status = 'open'
                  GROUP BY escrow_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_disputed_has_open_dispute",
			SQL: `SELECT e.id FROM escrows e
                  WHERE e.status = 'disputed'
                    AND NOT EXISTS (SELECT 1 FROM disputes d
                                    WHERE d.escrow_id = e.id AND d.status = 'open')`,
		},
		{
			Name: "O7_outbox_not_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_funded_at_ordering",
			SQL: `SELECT id FROM escrows
                  WHERE funded_at IS NOT NULL
                    AND (funded_at < created_at OR funded_at > updated_at)`,
		},
		{
			Name: "O9_escrow_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_escrows')`,
		},
		{
			Name: "O10_trust_score_range",
			SQL: `SELECT user_id FROM reputation_profiles
                  WHERE trust_score < 0 OR trust_score > 100`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
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
