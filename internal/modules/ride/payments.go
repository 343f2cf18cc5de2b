// README: Payment settlement lookups used as the completion precondition.
package ride

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"haulbid/internal/types"
)

type PaymentChecker interface {
	IsSettled(ctx context.Context, rideID types.ID) (bool, error)
}

type PGPayments struct {
	db *pgxpool.Pool
}

func NewPGPayments(db *pgxpool.Pool) *PGPayments {
	return &PGPayments{db: db}
}

func (p *PGPayments) IsSettled(ctx context.Context, rideID types.ID) (bool, error) {
	var status string
	err := p.db.QueryRow(ctx, `SELECT status FROM payments WHERE ride_id = $1`, string(rideID)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == "SETTLED", nil
}

// MemoryPayments is a settlement set for the in-memory storage driver.
type MemoryPayments struct {
	mu      sync.RWMutex
	settled map[types.ID]bool
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{settled: map[types.ID]bool{}}
}

func (p *MemoryPayments) MarkSettled(rideID types.ID) {
	p.mu.Lock()
	p.settled[rideID] = true
	p.mu.Unlock()
}

func (p *MemoryPayments) IsSettled(_ context.Context, rideID types.ID) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settled[rideID], nil
}
