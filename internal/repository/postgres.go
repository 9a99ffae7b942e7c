// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/lenddesk/loanledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrLoanNotFound возвращается, если заём не найден.
var (
	ErrLoanNotFound = errors.New("loan not found")
	// ErrLoanExists возвращается при попытке создать заём с уже занятым идентификатором.
	ErrLoanExists = errors.New("loan already exists")
	// ErrAccountNotFound возвращается, если для займа отсутствует строка счёта.
	ErrAccountNotFound = errors.New("loan account not found")
	// ErrVersionConflict возвращается при конкурентном изменении счёта займа.
	// Вызывающий должен перечитать состояние и повторить операцию.
	ErrVersionConflict = errors.New("loan account version conflict")
	// ErrNotificationNotFound возвращается, если уведомление не найдено.
	ErrNotificationNotFound = errors.New("notification not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при ошибках сериализации, дедлоках и сетевых сбоях.
// Конфликт версий счёта не ретраится: политика повторов принадлежит вызывающему.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateLoan сохраняет заём вместе с начальной строкой счёта в одной транзакции.
func (r *PostgresRepository) CreateLoan(ctx context.Context, loan *model.Loan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO loans (id, borrower_id, principal_total, interest_total, next_due_date, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		loan.ID, loan.BorrowerID, loan.PrincipalTotal, loan.InterestTotal,
		loan.NextDueDate, string(loan.Status), loan.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrLoanExists, loan.ID)
		}
		return fmt.Errorf("insert loan: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO loan_accounts (loan_id, outstanding_principal, outstanding_interest, total_penalty_accrued)
		 VALUES ($1, $2, $3, 0)`,
		loan.ID, loan.PrincipalTotal, loan.InterestTotal,
	)
	if err != nil {
		return fmt.Errorf("insert loan account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetLoan возвращает заём по идентификатору.
func (r *PostgresRepository) GetLoan(ctx context.Context, loanID string) (*model.Loan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, borrower_id, principal_total, interest_total, next_due_date, status, created_at
		 FROM loans WHERE id = $1`,
		loanID,
	)

	var l model.Loan
	var status string
	err := row.Scan(&l.ID, &l.BorrowerID, &l.PrincipalTotal, &l.InterestTotal, &l.NextDueDate, &status, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	l.Status = model.LoanStatus(status)

	return &l, nil
}

// GetOverdueLoans возвращает активные займы с просроченной датой платежа
// и ненулевым остатком задолженности.
func (r *PostgresRepository) GetOverdueLoans(ctx context.Context, asOf time.Time, limit int) ([]model.Loan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.borrower_id, l.principal_total, l.interest_total, l.next_due_date, l.status, l.created_at
		 FROM loans l
		 JOIN loan_accounts a ON a.loan_id = l.id
		 WHERE l.status = $1
		   AND l.next_due_date < $2
		   AND a.outstanding_principal + a.outstanding_interest > 0
		 ORDER BY l.next_due_date
		 LIMIT $3`,
		string(model.LoanStatusActive), asOf, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select overdue loans: %w", err)
	}
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		var l model.Loan
		var status string
		if err := rows.Scan(&l.ID, &l.BorrowerID, &l.PrincipalTotal, &l.InterestTotal, &l.NextDueDate, &status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		l.Status = model.LoanStatus(status)
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetAccountView возвращает текущую строку счёта займа вместе с номером версии.
func (r *PostgresRepository) GetAccountView(ctx context.Context, loanID string) (*model.LoanAccountView, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT loan_id, outstanding_principal, outstanding_interest, total_penalty_accrued, last_payment_at, version
		 FROM loan_accounts WHERE loan_id = $1`,
		loanID,
	)

	var v model.LoanAccountView
	err := row.Scan(&v.LoanID, &v.OutstandingPrincipal, &v.OutstandingInterest,
		&v.TotalPenaltyAccrued, &v.LastPaymentAt, &v.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get loan account: %w", err)
	}

	return &v, nil
}

// CreatePaymentEntry атомарно сохраняет запись платежа и обновляет счёт займа.
// Обновление условное: строка счёта меняется только при совпадении версии,
// иначе возвращается ErrVersionConflict и ничего не сохраняется.
func (r *PostgresRepository) CreatePaymentEntry(ctx context.Context, entry *model.PaymentEntry, view *model.LoanAccountView, expectedVersion int64) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO payment_entries
			 (id, loan_id, borrower_id, recorded_by_admin_id, payment_date, recorded_at,
			  amount_paid, principal_applied, interest_applied, penalty_applied,
			  payment_method, transaction_reference, is_late_payment, days_late, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			entry.ID, entry.LoanID, entry.BorrowerID, entry.RecordedByAdminID,
			entry.PaymentDate, entry.RecordedAt,
			entry.AmountPaid, entry.PrincipalApplied, entry.InterestApplied, entry.PenaltyApplied,
			string(entry.PaymentMethod), entry.TransactionReference,
			entry.IsLatePayment, entry.DaysLate, entry.Notes,
		)
		if err != nil {
			return fmt.Errorf("insert payment entry: %w", err)
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE loan_accounts
			 SET outstanding_principal = $2,
			     outstanding_interest = $3,
			     total_penalty_accrued = $4,
			     last_payment_at = $5,
			     version = version + 1
			 WHERE loan_id = $1 AND version = $6`,
			view.LoanID, view.OutstandingPrincipal, view.OutstandingInterest,
			view.TotalPenaltyAccrued, view.LastPaymentAt, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update loan account: %w", err)
		}

		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM loan_accounts WHERE loan_id = $1)`,
				view.LoanID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check loan account: %w", err)
			}
			if !exists {
				return ErrAccountNotFound
			}
			return ErrVersionConflict
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

func scanPaymentEntries(rows pgx.Rows) ([]model.PaymentEntry, error) {
	var res []model.PaymentEntry
	for rows.Next() {
		var e model.PaymentEntry
		var method string
		if err := rows.Scan(&e.ID, &e.LoanID, &e.BorrowerID, &e.RecordedByAdminID,
			&e.PaymentDate, &e.RecordedAt,
			&e.AmountPaid, &e.PrincipalApplied, &e.InterestApplied, &e.PenaltyApplied,
			&method, &e.TransactionReference, &e.IsLatePayment, &e.DaysLate, &e.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan payment entry: %w", err)
		}
		e.PaymentMethod = model.PaymentMethod(method)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const paymentEntryColumns = `id, loan_id, borrower_id, recorded_by_admin_id, payment_date, recorded_at,
	 amount_paid, principal_applied, interest_applied, penalty_applied,
	 payment_method, transaction_reference, is_late_payment, days_late, notes`

// GetPaymentsByLoan возвращает записи платежей займа, новые первыми.
func (r *PostgresRepository) GetPaymentsByLoan(ctx context.Context, loanID string) ([]model.PaymentEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentEntryColumns+`
		 FROM payment_entries
		 WHERE loan_id = $1
		 ORDER BY recorded_at DESC`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	return scanPaymentEntries(rows)
}

// GetPaymentsByLoanChronological возвращает записи платежей займа в порядке записи,
// старые первыми — порядок свёртки для пересчёта счёта.
func (r *PostgresRepository) GetPaymentsByLoanChronological(ctx context.Context, loanID string) ([]model.PaymentEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentEntryColumns+`
		 FROM payment_entries
		 WHERE loan_id = $1
		 ORDER BY recorded_at`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	return scanPaymentEntries(rows)
}

// CreateNotification сохраняет запись уведомления.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *model.NotificationRecord) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO notifications (id, recipient_id, type, message, loan_id, payment_entry_id, is_read, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, n.RecipientID, string(n.Type), n.Message,
			n.LoanID, n.PaymentEntryID, n.IsRead, n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	})
}

// GetNotificationsByRecipient возвращает уведомления получателя, новые первыми.
func (r *PostgresRepository) GetNotificationsByRecipient(ctx context.Context, recipientID string) ([]model.NotificationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient_id, type, message, loan_id, payment_entry_id, is_read, created_at
		 FROM notifications
		 WHERE recipient_id = $1
		 ORDER BY created_at DESC`,
		recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.NotificationRecord
	for rows.Next() {
		var n model.NotificationRecord
		var typ string
		if err := rows.Scan(&n.ID, &n.RecipientID, &typ, &n.Message,
			&n.LoanID, &n.PaymentEntryID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetNotificationRead выставляет признак прочтения уведомления.
func (r *PostgresRepository) SetNotificationRead(ctx context.Context, id string, isRead bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = $2 WHERE id = $1`,
		id, isRead,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}

	return nil
}
