package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/richgarden/paygate/provider"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pgUniqueViolationCode = "23505"

// PostgresStore persists orders and the transaction ledger in Postgres
// through the pgx stdlib driver
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres, runs the embedded migrations and
// returns the store
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection; migrations are the
// caller's concern. Tests use this with sqlmock.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(dsn string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetOrder returns the order or provider.ErrOrderNotFound
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*provider.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_name, customer_phone, total_price, status, items,
		       address, comment, payment_method, receipt_ref, message_ref, created_at
		FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// SaveOrder inserts or replaces an order projection
func (s *PostgresStore) SaveOrder(ctx context.Context, order *provider.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, customer_name, customer_phone, total_price, status, items,
			 address, comment, payment_method, receipt_ref, message_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			total_price = EXCLUDED.total_price,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			address = EXCLUDED.address,
			comment = EXCLUDED.comment,
			payment_method = EXCLUDED.payment_method,
			receipt_ref = EXCLUDED.receipt_ref,
			message_ref = EXCLUDED.message_ref`,
		order.ID, order.CustomerName, order.CustomerPhone, order.TotalPrice,
		string(order.Status), string(itemsJSON), order.Address, order.Comment,
		order.PaymentMethod, order.ReceiptRef, order.MessageRef, createdAt)
	return err
}

// SetOrderStatus unconditionally writes the order status
func (s *PostgresStore) SetOrderStatus(ctx context.Context, orderID string, status provider.OrderStatus) error {
	return s.updateOrderField(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, string(status), orderID)
}

// MarkOrderPaid flips the order to paid with a conditional write
func (s *PostgresStore) MarkOrderPaid(ctx context.Context, orderID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND status <> $1`,
		string(provider.StatusPaid), orderID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetOrderReceiptRef stores the Payme Subscribe receipt identifier
func (s *PostgresStore) SetOrderReceiptRef(ctx context.Context, orderID, receiptRef string) error {
	return s.updateOrderField(ctx, `UPDATE orders SET receipt_ref = $1 WHERE id = $2`, receiptRef, orderID)
}

// SetOrderMessageRef stores the external notification message reference
func (s *PostgresStore) SetOrderMessageRef(ctx context.Context, orderID, messageRef string) error {
	return s.updateOrderField(ctx, `UPDATE orders SET message_ref = $1 WHERE id = $2`, messageRef, orderID)
}

func (s *PostgresStore) updateOrderField(ctx context.Context, query, value, orderID string) error {
	result, err := s.db.ExecContext(ctx, query, value, orderID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return provider.ErrOrderNotFound
	}
	return nil
}

// GetTransaction returns the ledger row or provider.ErrTransactionNotFound
func (s *PostgresStore) GetTransaction(ctx context.Context, transactionID string) (*provider.PaymentTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, order_id, amount, state, create_time, perform_time, cancel_time, cancel_reason
		FROM payment_transactions WHERE transaction_id = $1`, transactionID)
	return scanTransaction(row)
}

// CreateTransaction inserts a new Created ledger row
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *provider.PaymentTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_transactions
			(transaction_id, order_id, amount, state, create_time, perform_time, cancel_time, cancel_reason)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0)`,
		tx.TransactionID, tx.OrderID, tx.Amount, int(tx.State), tx.CreateTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return provider.ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// PerformTransaction moves Created -> Performed conditionally
func (s *PostgresStore) PerformTransaction(ctx context.Context, transactionID string, performTime int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_transactions SET state = $1, perform_time = $2
		WHERE transaction_id = $3 AND state = $4`,
		int(provider.StatePerformed), performTime, transactionID, int(provider.StateCreated))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CancelTransaction moves Created -> Cancelled conditionally
func (s *PostgresStore) CancelTransaction(ctx context.Context, transactionID string, cancelTime int64, reason int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_transactions SET state = $1, cancel_time = $2, cancel_reason = $3
		WHERE transaction_id = $4 AND state = $5`,
		int(provider.StateCancelled), cancelTime, reason, transactionID, int(provider.StateCreated))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
