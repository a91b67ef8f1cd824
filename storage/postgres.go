package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresStore keeps learned parameters in a small PostgreSQL table, shared
// between machines on the same line.
type PostgresStore struct {
	ctx  context.Context
	pool *pgxpool.Pool
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	ctx := context.TODO()
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	res := &PostgresStore{ctx: ctx, pool: pool}
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS learned_params (
		material VARCHAR(255),
		target_weight NUMERIC(6,1),
		coarse_speed DOUBLE PRECISION,
		fine_speed DOUBLE PRECISION,
		coarse_advance DOUBLE PRECISION,
		fall_value DOUBLE PRECISION,
		flow_rate DOUBLE PRECISION,
		updated_at TIMESTAMPTZ,
		PRIMARY KEY (material, target_weight))`)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return res, nil
}

func (s *PostgresStore) Lookup(material string, targetWeight float64) (*LearnedParams, bool, error) {
	row := s.pool.QueryRow(s.ctx,
		`SELECT coarse_speed, fine_speed, coarse_advance, fall_value, flow_rate, updated_at
		 FROM learned_params WHERE material=$1 AND target_weight=$2`, material, targetWeight)
	p := &LearnedParams{Material: material, TargetWeight: targetWeight}
	err := row.Scan(&p.CoarseSpeed, &p.FineSpeed, &p.CoarseAdvance, &p.FallValue, &p.FlowRate, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) Save(p *LearnedParams) error {
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO learned_params
		 (material, target_weight, coarse_speed, fine_speed, coarse_advance, fall_value, flow_rate, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (material, target_weight) DO UPDATE SET
		 coarse_speed=$3, fine_speed=$4, coarse_advance=$5, fall_value=$6, flow_rate=$7, updated_at=$8`,
		p.Material, p.TargetWeight, p.CoarseSpeed, p.FineSpeed, p.CoarseAdvance, p.FallValue, p.FlowRate, time.Now())
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
