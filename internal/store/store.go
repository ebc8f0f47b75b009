package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payment-gateway/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// CreateSubscription persists an ARB schedule reference.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (provider, provider_sub_id, name, email, amount, interval_months, start_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, sub, query,
		sub.Provider, sub.ProviderSubID, sub.Name, sub.Email, sub.Amount,
		sub.IntervalMonths, sub.StartDate, sub.Status)
}

// GetSubscriptionByProviderID retrieves a subscription by its provider-issued ID
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub,
		"SELECT * FROM subscriptions WHERE provider_sub_id = $1", providerSubID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription not found: %s", providerSubID)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubscriptionStatus records the provider-driven status
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, providerSubID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE provider_sub_id = $2",
		status, providerSubID)
	return err
}

// IsEventProcessed checks if a webhook event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a webhook event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
