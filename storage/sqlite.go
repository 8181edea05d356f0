package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richgarden/paygate/provider"
)

// SQLiteStore persists orders and the transaction ledger in SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and if needed creates) the SQLite database with
// multi-process friendly settings
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_timeout=20000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	store := &SQLiteStore{db: db, path: dbPath}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		total_price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new',
		items TEXT NOT NULL DEFAULT '[]',
		address TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		receipt_ref TEXT NOT NULL DEFAULT '',
		message_ref TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS payment_transactions (
		transaction_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		state INTEGER NOT NULL DEFAULT 0,
		create_time INTEGER NOT NULL,
		perform_time INTEGER NOT NULL DEFAULT 0,
		cancel_time INTEGER NOT NULL DEFAULT 0,
		cancel_reason INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_order ON payment_transactions(order_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// retryWrite executes a write with retry for SQLITE_BUSY contention
func (s *SQLiteStore) retryWrite(operation func() error) error {
	const maxRetries = 4
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "SQLITE_BUSY") && !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		if attempt < maxRetries {
			time.Sleep(time.Duration(10*(1<<attempt)) * time.Millisecond)
		}
	}

	return fmt.Errorf("write failed after %d retries: %w", maxRetries+1, lastErr)
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrder returns the order or provider.ErrOrderNotFound
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*provider.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_name, customer_phone, total_price, status, items,
		       address, comment, payment_method, receipt_ref, message_ref, created_at
		FROM orders WHERE id = ?`, orderID)
	return scanOrder(row)
}

// SaveOrder inserts or replaces an order projection
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *provider.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return s.retryWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO orders
				(id, customer_name, customer_phone, total_price, status, items,
				 address, comment, payment_method, receipt_ref, message_ref, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.CustomerName, order.CustomerPhone, order.TotalPrice,
			string(order.Status), string(itemsJSON), order.Address, order.Comment,
			order.PaymentMethod, order.ReceiptRef, order.MessageRef, createdAt)
		return err
	})
}

// SetOrderStatus unconditionally writes the order status
func (s *SQLiteStore) SetOrderStatus(ctx context.Context, orderID string, status provider.OrderStatus) error {
	return s.updateOrderField(ctx, orderID, "status", string(status))
}

// MarkOrderPaid flips the order to paid with a conditional write; the
// affected-row count tells the caller whether this call did the transition.
func (s *SQLiteStore) MarkOrderPaid(ctx context.Context, orderID string) (bool, error) {
	var affected int64
	err := s.retryWrite(func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE orders SET status = ? WHERE id = ? AND status <> ?`,
			string(provider.StatusPaid), orderID, string(provider.StatusPaid))
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetOrderReceiptRef stores the Payme Subscribe receipt identifier
func (s *SQLiteStore) SetOrderReceiptRef(ctx context.Context, orderID, receiptRef string) error {
	return s.updateOrderField(ctx, orderID, "receipt_ref", receiptRef)
}

// SetOrderMessageRef stores the external notification message reference
func (s *SQLiteStore) SetOrderMessageRef(ctx context.Context, orderID, messageRef string) error {
	return s.updateOrderField(ctx, orderID, "message_ref", messageRef)
}

func (s *SQLiteStore) updateOrderField(ctx context.Context, orderID, column, value string) error {
	return s.retryWrite(func() error {
		result, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE orders SET %s = ? WHERE id = ?`, column), value, orderID)
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
	})
}

// GetTransaction returns the ledger row or provider.ErrTransactionNotFound
func (s *SQLiteStore) GetTransaction(ctx context.Context, transactionID string) (*provider.PaymentTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, order_id, amount, state, create_time, perform_time, cancel_time, cancel_reason
		FROM payment_transactions WHERE transaction_id = ?`, transactionID)
	return scanTransaction(row)
}

// CreateTransaction inserts a new Created ledger row
func (s *SQLiteStore) CreateTransaction(ctx context.Context, tx *provider.PaymentTransaction) error {
	return s.retryWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO payment_transactions
				(transaction_id, order_id, amount, state, create_time, perform_time, cancel_time, cancel_reason)
			VALUES (?, ?, ?, ?, ?, 0, 0, 0)`,
			tx.TransactionID, tx.OrderID, tx.Amount, int(tx.State), tx.CreateTime)
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return provider.ErrDuplicateTransaction
		}
		return err
	})
}

// PerformTransaction moves Created -> Performed conditionally
func (s *SQLiteStore) PerformTransaction(ctx context.Context, transactionID string, performTime int64) (bool, error) {
	var affected int64
	err := s.retryWrite(func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE payment_transactions SET state = ?, perform_time = ?
			WHERE transaction_id = ? AND state = ?`,
			int(provider.StatePerformed), performTime, transactionID, int(provider.StateCreated))
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CancelTransaction moves Created -> Cancelled conditionally
func (s *SQLiteStore) CancelTransaction(ctx context.Context, transactionID string, cancelTime int64, reason int) (bool, error) {
	var affected int64
	err := s.retryWrite(func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE payment_transactions SET state = ?, cancel_time = ?, cancel_reason = ?
			WHERE transaction_id = ? AND state = ?`,
			int(provider.StateCancelled), cancelTime, reason, transactionID, int(provider.StateCreated))
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*provider.Order, error) {
	var order provider.Order
	var status, itemsJSON string
	var createdAt sql.NullTime

	err := row.Scan(&order.ID, &order.CustomerName, &order.CustomerPhone, &order.TotalPrice,
		&status, &itemsJSON, &order.Address, &order.Comment, &order.PaymentMethod,
		&order.ReceiptRef, &order.MessageRef, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, provider.ErrOrderNotFound
		}
		return nil, err
	}

	order.Status = provider.OrderStatus(status)
	if createdAt.Valid {
		order.CreatedAt = createdAt.Time
	}
	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &order.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
		}
	}

	return &order, nil
}

func scanTransaction(row rowScanner) (*provider.PaymentTransaction, error) {
	var tx provider.PaymentTransaction
	var state int

	err := row.Scan(&tx.TransactionID, &tx.OrderID, &tx.Amount, &state,
		&tx.CreateTime, &tx.PerformTime, &tx.CancelTime, &tx.CancelReason)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, provider.ErrTransactionNotFound
		}
		return nil, err
	}

	tx.State = provider.TransactionState(state)
	return &tx, nil
}
