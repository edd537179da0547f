package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"afyalog/internal/payment"
)

const uniqueViolation = "23505"

const txnColumns = `tracking_id, kind, user_id, target_tier, amount, currency, channel, reference,
	state, initiated_at, expires_at, resolved_at, applied_at`

const regColumns = `temp_id, tracking_id, email, phone, full_name, target_tier,
	created_at, expires_at, payment_confirmed_at`

// PaymentRepository stores pending transactions and registrations in Postgres.
// State changes are conditional UPDATEs, so concurrent resolvers race on the row lock.
type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) CreatePending(ctx context.Context, txn *payment.Transaction) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO pending_transactions (`+txnColumns+`)
		 VALUES (:tracking_id, :kind, :user_id, :target_tier, :amount, :currency, :channel, :reference,
		         :state, :initiated_at, :expires_at, :resolved_at, :applied_at)`, txn)
	if isUniqueViolation(err) {
		return payment.ErrDuplicateTrackingID
	}
	return errors.Wrap(err, "insert pending transaction")
}

func (r *PaymentRepository) Get(ctx context.Context, trackingID string) (*payment.Transaction, error) {
	txn := &payment.Transaction{}
	err := r.db.GetContext(ctx, txn,
		`SELECT `+txnColumns+` FROM pending_transactions WHERE tracking_id = $1`, trackingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrUnknownTransaction
	}
	if err != nil {
		return nil, errors.Wrap(err, "get pending transaction")
	}
	return txn, nil
}

func (r *PaymentRepository) Resolve(ctx context.Context, trackingID string, outcome payment.State, at time.Time) (payment.State, error) {
	return r.transition(ctx, trackingID, payment.StateInitiated, outcome, at)
}

func (r *PaymentRepository) Reinstate(ctx context.Context, trackingID string, at time.Time) (payment.State, error) {
	return r.transition(ctx, trackingID, payment.StateTimedOut, payment.StateSuccess, at)
}

func (r *PaymentRepository) transition(ctx context.Context, trackingID string, from, to payment.State, at time.Time) (payment.State, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_transactions SET state = $3, resolved_at = $4
		 WHERE tracking_id = $1 AND state = $2`,
		trackingID, from, to, at)
	if err != nil {
		return "", errors.Wrap(err, "resolve pending transaction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", errors.Wrap(err, "resolve pending transaction")
	}
	if n == 1 {
		return from, nil
	}

	cur, err := r.Get(ctx, trackingID)
	if err != nil {
		return "", err
	}
	return cur.State, payment.ErrAlreadyResolved
}

func (r *PaymentRepository) Sweep(ctx context.Context, now time.Time) ([]payment.Transaction, error) {
	var out []payment.Transaction
	err := r.db.SelectContext(ctx, &out,
		`UPDATE pending_transactions SET state = 'TIMED_OUT', resolved_at = $1
		 WHERE state = 'INITIATED' AND expires_at <= $1
		 RETURNING `+txnColumns, now)
	if err != nil {
		return nil, errors.Wrap(err, "sweep pending transactions")
	}
	return out, nil
}

func (r *PaymentRepository) AttachUser(ctx context.Context, trackingID string, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_transactions SET user_id = $2 WHERE tracking_id = $1 AND user_id IS NULL`,
		trackingID, userID)
	if err != nil {
		return errors.Wrap(err, "attach user to transaction")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = r.Get(ctx, trackingID)
		return err
	}
	return nil
}

func (r *PaymentRepository) MarkApplied(ctx context.Context, trackingID string, userID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_transactions SET user_id = $2, applied_at = $3
		 WHERE tracking_id = $1 AND applied_at IS NULL`,
		trackingID, userID, at)
	if err != nil {
		return errors.Wrap(err, "mark transaction applied")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already applied is fine; a missing row is not.
		_, err = r.Get(ctx, trackingID)
		return err
	}
	return nil
}

func (r *PaymentRepository) ListUnapplied(ctx context.Context, olderThan time.Time) ([]payment.Transaction, error) {
	var out []payment.Transaction
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+txnColumns+` FROM pending_transactions
		 WHERE state = 'SUCCESS' AND user_id IS NOT NULL AND applied_at IS NULL AND resolved_at <= $1
		 ORDER BY resolved_at`, olderThan)
	if err != nil {
		return nil, errors.Wrap(err, "list unapplied transactions")
	}
	return out, nil
}

func (r *PaymentRepository) CreateRegistration(ctx context.Context, reg *payment.Registration) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO pending_registrations (`+regColumns+`)
		 VALUES (:temp_id, :tracking_id, :email, :phone, :full_name, :target_tier,
		         :created_at, :expires_at, :payment_confirmed_at)`, reg)
	if isUniqueViolation(err) {
		return payment.ErrDuplicateTrackingID
	}
	return errors.Wrap(err, "insert pending registration")
}

func (r *PaymentRepository) GetRegistration(ctx context.Context, trackingID string) (*payment.Registration, error) {
	reg := &payment.Registration{}
	err := r.db.GetContext(ctx, reg,
		`SELECT `+regColumns+` FROM pending_registrations WHERE tracking_id = $1`, trackingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrUnknownTransaction
	}
	if err != nil {
		return nil, errors.Wrap(err, "get pending registration")
	}
	return reg, nil
}

func (r *PaymentRepository) ConfirmRegistration(ctx context.Context, trackingID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_registrations SET payment_confirmed_at = COALESCE(payment_confirmed_at, $2)
		 WHERE tracking_id = $1 AND expires_at > $2`,
		trackingID, now)
	if err != nil {
		return errors.Wrap(err, "confirm registration")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetRegistration(ctx, trackingID); err != nil {
		return err
	}
	return payment.ErrExpiredRegistration
}

func (r *PaymentRepository) ClaimRegistration(ctx context.Context, trackingID string, now time.Time) (*payment.Registration, error) {
	reg := &payment.Registration{}
	err := r.db.GetContext(ctx, reg,
		`DELETE FROM pending_registrations
		 WHERE tracking_id = $1 AND payment_confirmed_at IS NOT NULL AND expires_at > $2
		 RETURNING `+regColumns, trackingID, now)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "claim registration")
	}

	cur, err := r.GetRegistration(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if cur.Expired(now) {
		return nil, payment.ErrExpiredRegistration
	}
	return nil, payment.ErrPaymentNotConfirmed
}

func (r *PaymentRepository) DeleteExpiredRegistrations(ctx context.Context, now time.Time) ([]payment.Registration, error) {
	var out []payment.Registration
	err := r.db.SelectContext(ctx, &out,
		`DELETE FROM pending_registrations WHERE expires_at <= $1 RETURNING `+regColumns, now)
	if err != nil {
		return nil, errors.Wrap(err, "delete expired registrations")
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
