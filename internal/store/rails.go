package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/railverify/internal/verify"
)

const railColumns = `rail, chain_id, currency, treasury, rpc_url, enabled, min_confirmations, metadata`

// GetRail returns the configuration for a rail instance.
// Returns ErrNotFound if the rail is not configured.
func (s *Store) GetRail(ctx context.Context, rail verify.Rail, chainID *int64) (verify.RailConfig, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+railColumns+`
		FROM payment_rails
		WHERE rail = ? AND chain_id = ?
	`), string(rail), chainColumn(chainID))

	cfg, err := scanRail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return verify.RailConfig{}, fmt.Errorf("get rail %s: %w", verify.RailKey(rail, chainID), ErrNotFound)
	}
	if err != nil {
		return verify.RailConfig{}, fmt.Errorf("get rail %s: %w", verify.RailKey(rail, chainID), err)
	}
	return cfg, nil
}

// ListRails returns every configured rail ordered by rail and chain id.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListRails(ctx context.Context) ([]verify.RailConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+railColumns+`
		FROM payment_rails
		ORDER BY rail ASC, chain_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rails: %w", err)
	}
	defer rows.Close()

	rails := []verify.RailConfig{}
	for rows.Next() {
		cfg, err := scanRail(rows)
		if err != nil {
			return nil, fmt.Errorf("list rails: %w", err)
		}
		rails = append(rails, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rails: %w", err)
	}
	return rails, nil
}

// UpsertRail inserts or replaces the configuration for (rail, chain_id).
func (s *Store) UpsertRail(ctx context.Context, cfg verify.RailConfig) error {
	if _, err := verify.ParseRail(string(cfg.Rail)); err != nil {
		return fmt.Errorf("upsert rail: %w", err)
	}
	if cfg.Rail.UsesChainID() && (cfg.ChainID == nil || *cfg.ChainID <= 0) {
		return fmt.Errorf("upsert rail: %s requires a positive chain id", cfg.Rail)
	}
	if !cfg.Rail.UsesChainID() {
		cfg.ChainID = nil
	}

	metaJSON, err := marshalMeta(cfg.Metadata)
	if err != nil {
		return fmt.Errorf("upsert rail: %w", err)
	}

	var rpcURL sql.NullString
	if cfg.RPCURL != "" {
		rpcURL = sql.NullString{String: cfg.RPCURL, Valid: true}
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO payment_rails
		(rail, chain_id, currency, treasury, rpc_url, enabled, min_confirmations, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (rail, chain_id) DO UPDATE SET
			currency = excluded.currency,
			treasury = excluded.treasury,
			rpc_url = excluded.rpc_url,
			enabled = excluded.enabled,
			min_confirmations = excluded.min_confirmations,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`),
		string(cfg.Rail),
		chainColumn(cfg.ChainID),
		cfg.Currency,
		cfg.Treasury,
		rpcURL,
		cfg.Enabled,
		cfg.MinConfirmations,
		metaJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert rail %s: %w", cfg.Key(), err)
	}
	return nil
}

// SetRailEnabled toggles a configured rail.
// Returns ErrNotFound if the rail is not configured.
func (s *Store) SetRailEnabled(ctx context.Context, rail verify.Rail, chainID *int64, enabled bool) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE payment_rails
		SET enabled = ?, updated_at = ?
		WHERE rail = ? AND chain_id = ?
	`), enabled, s.now(), string(rail), chainColumn(chainID))
	if err != nil {
		return fmt.Errorf("set rail enabled: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set rail enabled: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("set rail enabled %s: %w", verify.RailKey(rail, chainID), ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRail(row rowScanner) (verify.RailConfig, error) {
	var (
		cfg      verify.RailConfig
		rail     string
		chainID  int64
		rpcURL   sql.NullString
		metaJSON string
	)
	if err := row.Scan(&rail, &chainID, &cfg.Currency, &cfg.Treasury, &rpcURL, &cfg.Enabled, &cfg.MinConfirmations, &metaJSON); err != nil {
		return verify.RailConfig{}, err
	}

	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return verify.RailConfig{}, fmt.Errorf("rail %s metadata: %w", rail, err)
	}

	cfg.Rail = verify.Rail(rail)
	cfg.ChainID = chainFromColumn(chainID)
	cfg.RPCURL = rpcURL.String
	cfg.Metadata = meta
	return cfg, nil
}
