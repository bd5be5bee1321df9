package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syndollar/dsc-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are stored as NUMERIC(78,0): wad-scaled integers, exact.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetPosition(ctx context.Context, account string) (*model.Position, error) {
	p := model.NewPosition(account)

	var debt string
	err := s.pool.QueryRow(ctx,
		`SELECT debt::TEXT FROM positions WHERE account = $1`, account).
		Scan(&debt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("get position %s: %w", account, err)
	}
	p.Debt = mustBig(debt)

	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, amount::TEXT FROM collateral_balances WHERE account = $1`, account)
	if err != nil {
		return nil, fmt.Errorf("get collateral %s: %w", account, err)
	}
	defer rows.Close()

	for rows.Next() {
		var assetID, amount string
		if err := rows.Scan(&assetID, &amount); err != nil {
			return nil, err
		}
		p.Collateral[assetID] = mustBig(amount)
	}
	return p, rows.Err()
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]*model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.account, p.debt::TEXT, cb.asset_id, cb.amount::TEXT
		 FROM positions p
		 LEFT JOIN collateral_balances cb ON cb.account = p.account
		 ORDER BY p.account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byAccount := make(map[string]*model.Position)
	var order []string

	for rows.Next() {
		var account, debt string
		var assetID, amount *string
		if err := rows.Scan(&account, &debt, &assetID, &amount); err != nil {
			return nil, err
		}
		p, ok := byAccount[account]
		if !ok {
			p = model.NewPosition(account)
			p.Debt = mustBig(debt)
			byAccount[account] = p
			order = append(order, account)
		}
		if assetID != nil && amount != nil {
			p.Collateral[*assetID] = mustBig(*amount)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	positions := make([]*model.Position, 0, len(order))
	for _, account := range order {
		positions = append(positions, byAccount[account])
	}
	return positions, nil
}

// Apply commits the change set in one transaction: position upserts, the
// touched accounts' collateral rows rewritten, and ledger entries appended.
func (s *PostgresStore) Apply(ctx context.Context, cs *ChangeSet) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range cs.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (account, debt) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (account) DO UPDATE SET debt = EXCLUDED.debt`,
			p.Account, p.Debt.String()); err != nil {
			return fmt.Errorf("upsert position %s: %w", p.Account, err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM collateral_balances WHERE account = $1`, p.Account); err != nil {
			return fmt.Errorf("clear collateral %s: %w", p.Account, err)
		}
		for assetID, amount := range p.Collateral {
			if amount.Sign() == 0 {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO collateral_balances (account, asset_id, amount)
				 VALUES ($1, $2, $3::NUMERIC)`,
				p.Account, assetID, amount.String()); err != nil {
				return fmt.Errorf("insert collateral %s/%s: %w", p.Account, assetID, err)
			}
		}
	}

	for _, e := range cs.Entries {
		var hf *string
		if e.HealthFactor != nil {
			v := e.HealthFactor.String()
			hf = &v
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, account, kind, asset_id, amount, counterparty, health_factor, timestamp)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8)`,
			e.ID, e.Account, e.Kind, e.AssetID, e.Amount.String(), e.Counterparty, hf, e.Timestamp); err != nil {
			return fmt.Errorf("insert ledger entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LedgerEntriesByAccount(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account, kind, asset_id, amount::TEXT, counterparty, health_factor::TEXT, timestamp
		 FROM ledger_entries WHERE account = $1 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount string
		var hf *string
		if err := rows.Scan(&e.ID, &e.Account, &e.Kind, &e.AssetID,
			&amount, &e.Counterparty, &hf, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount = mustBig(amount)
		if hf != nil {
			e.HealthFactor = mustBig(*hf)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// mustBig parses a NUMERIC::TEXT column. The database only ever holds values
// this store wrote from big.Int, so a parse failure means corruption.
func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("store: corrupt numeric column %q", s))
	}
	return v
}
