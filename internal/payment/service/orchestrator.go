package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.jetify.com/typeid/v2"

	"afyalog/internal/gateway"
	"afyalog/internal/metrics"
	"afyalog/internal/payment"
	"afyalog/internal/subscription"
	"afyalog/internal/tier"
	"afyalog/internal/user"
	usersvc "afyalog/internal/user/service"
	"afyalog/pkg/hash"
)

// Ledger is the slice of the subscription ledger the orchestrator writes to.
type Ledger interface {
	ApplyPurchase(ctx context.Context, userID int64, t tier.Tier, ids subscription.ExternalIDs) (*subscription.ChangeResult, error)
	Provision(ctx context.Context, userID int64) (*subscription.Record, error)
	Record(ctx context.Context, userID int64) (*subscription.Record, error)
}

type Accounts interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	Login(ctx context.Context, email, password string) (*user.User, error)
	CreateAccount(ctx context.Context, in usersvc.RegisterInput) (*user.User, error)
}

// LateSuccessPolicy decides what a SUCCESS callback does after the sweep
// already timed the transaction out.
type LateSuccessPolicy string

const (
	LateSuccessReject LateSuccessPolicy = "reject"
	LateSuccessGrant  LateSuccessPolicy = "grant"
)

// Orchestrator drives the push-payment state machine: initiate, callback,
// registration completion and reconciliation.
type Orchestrator struct {
	store    payment.Store
	gateway  gateway.Client
	ledger   Ledger
	accounts Accounts
	catalog  *tier.Catalog
	log      *logrus.Entry

	now             func() time.Time
	paymentTTL      time.Duration
	registrationTTL time.Duration
	applyGrace      time.Duration
	lateSuccess     LateSuccessPolicy
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithPaymentTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.paymentTTL = d }
}

func WithRegistrationTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.registrationTTL = d }
}

// WithApplyGrace sets how long Reconcile leaves a fresh SUCCESS alone before
// retrying its grant, so it does not race the callback that is applying it.
func WithApplyGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.applyGrace = d }
}

func WithLateSuccessPolicy(p LateSuccessPolicy) Option {
	return func(o *Orchestrator) { o.lateSuccess = p }
}

func NewOrchestrator(store payment.Store, gw gateway.Client, ledger Ledger, accounts Accounts, catalog *tier.Catalog, log *logrus.Entry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           store,
		gateway:         gw,
		ledger:          ledger,
		accounts:        accounts,
		catalog:         catalog,
		log:             log,
		now:             time.Now,
		paymentTTL:      10 * time.Minute,
		registrationTTL: 10 * time.Minute,
		applyGrace:      time.Minute,
		lateSuccess:     LateSuccessReject,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type UpgradeResult struct {
	TrackingID string          `json:"tracking_id"`
	Tier       tier.Tier       `json:"tier"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Message    string          `json:"message"`
}

// InitiateUpgrade pushes a payment prompt for target to the user's phone.
// Nothing in the ledger changes until the callback arrives.
func (o *Orchestrator) InitiateUpgrade(ctx context.Context, userID int64, target tier.Tier, channel string) (*UpgradeResult, error) {
	u, err := o.accounts.GetByID(ctx, userID)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, payment.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}

	plan, err := o.catalog.Lookup(target)
	if err != nil {
		return nil, invalidTier(target)
	}
	rec, err := o.ledger.Record(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !o.catalog.IsUpgrade(rec.Tier, target) {
		return nil, &payment.ValidationError{Field: "tier", Message: "not an upgrade from " + string(rec.Tier)}
	}
	if !plan.Price.IsPositive() {
		return nil, &payment.ValidationError{Field: "tier", Message: "tier is not priced"}
	}

	if channel == "" {
		channel = u.Phone
	}
	normalized, err := gateway.NormalizeChannel(channel)
	if err != nil {
		return nil, &payment.ValidationError{Field: "channel", Message: "not a valid mobile money number"}
	}

	push, err := o.push(ctx, gateway.PushRequest{
		Channel:   normalized,
		Amount:    plan.Price,
		Currency:  plan.Currency,
		Reference: uuid.NewString(),
		Narrative: "Upgrade to " + plan.Name,
	})
	if err != nil {
		return nil, err
	}

	now := o.now()
	txn := &payment.Transaction{
		TrackingID:  push.TrackingID,
		Kind:        payment.KindUpgrade,
		UserID:      &userID,
		TargetTier:  target,
		Amount:      plan.Price,
		Currency:    plan.Currency,
		Channel:     normalized,
		Reference:   push.reference,
		State:       payment.StateInitiated,
		InitiatedAt: now,
		ExpiresAt:   now.Add(o.paymentTTL),
	}
	if err := o.store.CreatePending(ctx, txn); err != nil {
		return nil, errors.Wrap(err, "record pending upgrade")
	}

	metrics.PaymentsInitiatedTotal.WithLabelValues(string(payment.KindUpgrade), string(target)).Inc()
	o.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"tracking_id": txn.TrackingID,
		"tier":        target,
	}).Info("upgrade payment initiated")

	return &UpgradeResult{
		TrackingID: txn.TrackingID,
		Tier:       target,
		Amount:     txn.Amount,
		Currency:   txn.Currency,
		ExpiresAt:  txn.ExpiresAt,
		Message:    push.Message,
	}, nil
}

type RegistrationInput struct {
	Email    string
	Phone    string
	FullName string
	Tier     tier.Tier
}

type RegistrationResult struct {
	TempID          string          `json:"temp_id,omitempty"`
	TrackingID      string          `json:"tracking_id,omitempty"`
	Tier            tier.Tier       `json:"tier"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	RequiresPayment bool            `json:"requires_payment"`
	Message         string          `json:"message,omitempty"`
}

// InitiateRegistration starts a paid signup. The account itself is created by
// CompleteRegistration once the payment is confirmed.
func (o *Orchestrator) InitiateRegistration(ctx context.Context, in RegistrationInput) (*RegistrationResult, error) {
	plan, err := o.catalog.Lookup(in.Tier)
	if err != nil {
		return nil, invalidTier(in.Tier)
	}
	taken, err := o.accounts.EmailTaken(ctx, in.Email)
	if err != nil {
		return nil, errors.Wrap(err, "check email")
	}
	if taken {
		return nil, &payment.ValidationError{Field: "email", Message: "already registered"}
	}
	if !in.Tier.IsPremium() {
		return &RegistrationResult{Tier: in.Tier, Amount: plan.Price, Currency: plan.Currency}, nil
	}

	normalized, err := gateway.NormalizeChannel(in.Phone)
	if err != nil {
		return nil, &payment.ValidationError{Field: "phone", Message: "not a valid mobile money number"}
	}

	push, err := o.push(ctx, gateway.PushRequest{
		Channel:   normalized,
		Amount:    plan.Price,
		Currency:  plan.Currency,
		Reference: uuid.NewString(),
		Narrative: "Afyalog " + plan.Name + " registration",
	})
	if err != nil {
		return nil, err
	}

	tempID, err := typeid.Generate("reg")
	if err != nil {
		return nil, errors.Wrap(err, "generate registration id")
	}

	now := o.now()
	expires := now.Add(o.registrationTTL)
	txn := &payment.Transaction{
		TrackingID:  push.TrackingID,
		Kind:        payment.KindRegistration,
		TargetTier:  in.Tier,
		Amount:      plan.Price,
		Currency:    plan.Currency,
		Channel:     normalized,
		Reference:   push.reference,
		State:       payment.StateInitiated,
		InitiatedAt: now,
		ExpiresAt:   expires,
	}
	if err := o.store.CreatePending(ctx, txn); err != nil {
		return nil, errors.Wrap(err, "record pending registration payment")
	}
	reg := &payment.Registration{
		TempID:     tempID.String(),
		TrackingID: push.TrackingID,
		Email:      in.Email,
		Phone:      in.Phone,
		FullName:   in.FullName,
		TargetTier: in.Tier,
		CreatedAt:  now,
		ExpiresAt:  expires,
	}
	if err := o.store.CreateRegistration(ctx, reg); err != nil {
		return nil, errors.Wrap(err, "record pending registration")
	}

	metrics.PaymentsInitiatedTotal.WithLabelValues(string(payment.KindRegistration), string(in.Tier)).Inc()
	o.log.WithFields(logrus.Fields{
		"tracking_id": reg.TrackingID,
		"temp_id":     reg.TempID,
		"tier":        in.Tier,
	}).Info("registration payment initiated")

	return &RegistrationResult{
		TempID:          reg.TempID,
		TrackingID:      reg.TrackingID,
		Tier:            in.Tier,
		Amount:          plan.Price,
		Currency:        plan.Currency,
		ExpiresAt:       &expires,
		RequiresPayment: true,
		Message:         push.Message,
	}, nil
}

type pushOutcome struct {
	*gateway.PushResult
	reference string
}

func (o *Orchestrator) push(ctx context.Context, req gateway.PushRequest) (*pushOutcome, error) {
	res, err := o.gateway.Push(ctx, req)
	if errors.Is(err, gateway.ErrInvalidChannel) {
		return nil, &payment.ValidationError{Field: "channel", Message: "not a valid mobile money number"}
	}
	if err != nil {
		o.log.WithError(err).WithField("reference", req.Reference).Warn("push failed")
		return nil, &payment.GatewayError{Err: err}
	}
	if !res.Accepted {
		return nil, &payment.GatewayError{Err: errors.Wrap(payment.ErrPushRejected, res.Message)}
	}
	if res.TrackingID == "" {
		return nil, &payment.GatewayError{Err: errors.Wrap(payment.ErrPushRejected, "no tracking id")}
	}
	return &pushOutcome{PushResult: res, reference: req.Reference}, nil
}

// Callback is a gateway outcome for one tracking id. Amount, Currency,
// UserID and TargetTier are optional echoes that must match the stored
// transaction when present.
type Callback struct {
	TrackingID string
	Success    bool
	Amount     *decimal.Decimal
	Currency   string
	UserID     *int64
	TargetTier string
}

type CallbackResult struct {
	State   payment.State `json:"state"`
	Applied bool          `json:"applied"`
}

// HandleCallback resolves the transaction exactly once and, for a successful
// upgrade, applies the tier. Replays report ErrAlreadyResolved and change nothing.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	res, err := o.handleCallback(ctx, cb)
	metrics.CallbacksTotal.WithLabelValues(callbackLabel(err)).Inc()
	return res, err
}

func (o *Orchestrator) handleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	log := o.log.WithFields(logrus.Fields{"tracking_id": cb.TrackingID, "success": cb.Success})

	txn, err := o.store.Get(ctx, cb.TrackingID)
	if err != nil {
		if errors.Is(err, payment.ErrUnknownTransaction) {
			log.Warn("callback for unknown transaction")
		}
		return nil, err
	}

	now := o.now()
	if txn.Kind == payment.KindRegistration {
		reg, err := o.store.GetRegistration(ctx, cb.TrackingID)
		if err != nil {
			if errors.Is(err, payment.ErrUnknownTransaction) {
				log.Warn("callback for a registration that no longer exists")
			}
			return nil, err
		}
		if reg.Expired(now) {
			if _, err := o.store.Resolve(ctx, cb.TrackingID, payment.StateTimedOut, now); err != nil && !payment.IsNoop(err) {
				return nil, err
			}
			if cb.Success {
				log.WithField("email", reg.Email).Error("payment arrived for an expired registration, needs manual refund")
			}
			return nil, payment.ErrExpiredRegistration
		}
	}

	if cb.Success {
		if err := o.checkEcho(txn, cb); err != nil {
			log.WithError(err).Warn("callback does not match transaction")
			return nil, err
		}
	}

	outcome := payment.StateFailed
	if cb.Success {
		outcome = payment.StateSuccess
	}

	prior, err := o.store.Resolve(ctx, cb.TrackingID, outcome, now)
	if payment.IsNoop(err) {
		if !(cb.Success && prior == payment.StateTimedOut) {
			// An earlier delivery may have resolved the txn and then failed to confirm.
			if cb.Success && prior == payment.StateSuccess && txn.Kind == payment.KindRegistration {
				if cerr := o.store.ConfirmRegistration(ctx, cb.TrackingID, now); cerr != nil {
					return nil, cerr
				}
			}
			log.WithField("state", prior).Debug("callback replay ignored")
			return &CallbackResult{State: prior}, err
		}
		if o.lateSuccess != LateSuccessGrant {
			log.Error("success callback after timeout, rejected; needs manual compensation")
			return &CallbackResult{State: prior}, err
		}
		if _, err := o.store.Reinstate(ctx, cb.TrackingID, now); err != nil {
			return &CallbackResult{State: payment.StateSuccess}, err
		}
		log.Warn("late success reinstated")
	} else if err != nil {
		return nil, err
	}

	if outcome == payment.StateFailed {
		log.Info("payment failed")
		return &CallbackResult{State: payment.StateFailed}, nil
	}

	if txn.Kind == payment.KindRegistration {
		if err := o.store.ConfirmRegistration(ctx, cb.TrackingID, now); err != nil {
			return nil, err
		}
		log.Info("registration payment confirmed")
		return &CallbackResult{State: payment.StateSuccess}, nil
	}

	granted, err := o.grant(ctx, txn, *txn.UserID)
	if err != nil {
		log.WithError(err).Error("tier grant failed, left for reconciliation")
		return &CallbackResult{State: payment.StateSuccess}, err
	}
	return &CallbackResult{State: payment.StateSuccess, Applied: granted}, nil
}

func (o *Orchestrator) checkEcho(txn *payment.Transaction, cb Callback) error {
	if cb.Amount != nil && !cb.Amount.Equal(txn.Amount) {
		return &payment.ValidationError{Field: "amount", Message: "does not match " + txn.Amount.StringFixed(2)}
	}
	if cb.Currency != "" && cb.Currency != txn.Currency {
		return &payment.ValidationError{Field: "currency", Message: "does not match " + txn.Currency}
	}
	if cb.TargetTier != "" {
		if t, ok := tier.Parse(cb.TargetTier); !ok || t != txn.TargetTier {
			return &payment.ValidationError{Field: "target_tier", Message: "does not match " + string(txn.TargetTier)}
		}
	}
	if cb.UserID != nil && txn.UserID != nil && *cb.UserID != *txn.UserID {
		return &payment.ValidationError{Field: "user_id", Message: "does not match transaction owner"}
	}
	return nil
}

// grant applies the tier of a SUCCESS transaction and records that it stuck.
// A replay is harmless: the ledger ignores the same tier with the same tracking id.
// It reports false when a higher active tier superseded the purchase; that
// transaction is still marked applied so it is not retried.
func (o *Orchestrator) grant(ctx context.Context, txn *payment.Transaction, userID int64) (bool, error) {
	log := o.log.WithFields(logrus.Fields{
		"tracking_id": txn.TrackingID,
		"user_id":     userID,
		"tier":        txn.TargetTier,
	})

	res, err := o.ledger.ApplyPurchase(ctx, userID, txn.TargetTier, subscription.ExternalIDs{TrackingID: txn.TrackingID})
	superseded := errors.Is(err, subscription.ErrSuperseded)
	if err != nil && !superseded {
		return false, err
	}
	if err := o.store.MarkApplied(ctx, txn.TrackingID, userID, o.now()); err != nil {
		// The ledger already holds the outcome; reconciliation replays it as a no-op.
		log.WithError(err).Warn("mark applied failed")
	}
	if superseded {
		log.Error("paid tier is below the active tier, needs manual compensation")
		return false, nil
	}
	log.WithField("applied", res.Applied).Info("tier granted")
	return true, nil
}

type CompletionResult struct {
	User    *user.User `json:"user"`
	Tier    tier.Tier  `json:"tier"`
	Applied bool       `json:"applied"`
}

// CompleteRegistration turns a confirmed registration into an account on the
// paid tier. It can be retried after a partial failure: the user is attached
// to the transaction before the registration row is claimed, so once that
// happens Reconcile finishes the grant, and an account left behind by an
// earlier attempt is resumed when the password matches.
func (o *Orchestrator) CompleteRegistration(ctx context.Context, trackingID, password string) (*CompletionResult, error) {
	now := o.now()
	reg, err := o.store.GetRegistration(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if reg.Expired(now) {
		return nil, payment.ErrExpiredRegistration
	}
	if !reg.Confirmed() {
		return nil, payment.ErrPaymentNotConfirmed
	}

	u, err := o.account(ctx, reg, password)
	if err != nil {
		return nil, err
	}

	log := o.log.WithFields(logrus.Fields{"tracking_id": trackingID, "user_id": u.ID})

	if err := o.store.AttachUser(ctx, trackingID, u.ID); err != nil {
		return nil, errors.Wrap(err, "attach user")
	}
	claimed, err := o.store.ClaimRegistration(ctx, trackingID, now)
	if err != nil {
		log.WithError(err).Error("account created but registration could not be claimed")
		return nil, err
	}
	if _, err := o.ledger.Provision(ctx, u.ID); err != nil {
		return nil, errors.Wrap(err, "provision subscription")
	}

	txn, err := o.store.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	result := &CompletionResult{User: u, Tier: claimed.TargetTier}
	granted, err := o.grant(ctx, txn, u.ID)
	if err != nil {
		log.WithError(err).Error("registration grant failed, left for reconciliation")
		return result, nil
	}
	result.Applied = granted
	log.Info("registration completed")
	return result, nil
}

// account creates the user for reg, or picks up the one an earlier attempt at
// the same registration created.
func (o *Orchestrator) account(ctx context.Context, reg *payment.Registration, password string) (*user.User, error) {
	u, err := o.accounts.CreateAccount(ctx, usersvc.RegisterInput{
		Email:    reg.Email,
		Phone:    reg.Phone,
		FullName: reg.FullName,
		Password: password,
	})
	if err == nil {
		return u, nil
	}
	if errors.Is(err, hash.ErrPasswordTooLong) {
		return nil, &payment.ValidationError{Field: "password", Message: err.Error()}
	}
	if !errors.Is(err, user.ErrUserExists) {
		return nil, errors.Wrap(err, "create account")
	}

	taken := &payment.ValidationError{Field: "email", Message: "already registered"}
	u, err = o.accounts.Login(ctx, reg.Email, password)
	if err != nil {
		return nil, taken
	}
	txn, err := o.store.Get(ctx, reg.TrackingID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != nil && *txn.UserID != u.ID {
		return nil, taken
	}
	o.log.WithFields(logrus.Fields{"tracking_id": reg.TrackingID, "user_id": u.ID}).Info("resuming registration for existing account")
	return u, nil
}

// TransactionStatus lets the paying user poll a push.
func (o *Orchestrator) TransactionStatus(ctx context.Context, trackingID string, userID int64) (*payment.Transaction, error) {
	txn, err := o.store.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if txn.UserID == nil || *txn.UserID != userID {
		return nil, payment.ErrNotOwner
	}
	return txn, nil
}

type ReconcileReport struct {
	ExpiredRegistrations int `json:"expired_registrations"`
	TimedOut             int `json:"timed_out"`
	Regranted            int `json:"regranted"`
	GrantFailures        int `json:"grant_failures"`
}

// Reconcile drops expired registrations, times out stale pushes and retries
// grants that a callback could not commit.
func (o *Orchestrator) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	start := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	now := o.now()
	report := &ReconcileReport{}

	regs, err := o.store.DeleteExpiredRegistrations(ctx, now)
	if err != nil {
		return report, err
	}
	for _, reg := range regs {
		report.ExpiredRegistrations++
		metrics.ReconcileTransitionsTotal.WithLabelValues("registration_expired").Inc()
		o.flagUnclaimedPayment(ctx, reg)
	}

	swept, err := o.store.Sweep(ctx, now)
	if err != nil {
		return report, err
	}
	for _, txn := range swept {
		report.TimedOut++
		metrics.ReconcileTransitionsTotal.WithLabelValues("timed_out").Inc()
		o.log.WithField("tracking_id", txn.TrackingID).Info("pending payment timed out")
	}

	unapplied, err := o.store.ListUnapplied(ctx, now.Add(-o.applyGrace))
	if err != nil {
		return report, err
	}
	for i := range unapplied {
		txn := &unapplied[i]
		if _, err := o.grant(ctx, txn, *txn.UserID); err != nil {
			report.GrantFailures++
			o.log.WithError(err).WithField("tracking_id", txn.TrackingID).Error("grant retry failed")
			continue
		}
		report.Regranted++
		metrics.ReconcileTransitionsTotal.WithLabelValues("regranted").Inc()
	}
	return report, nil
}

// flagUnclaimedPayment logs an expired registration whose payment went
// through but never reached an account. The row may be unconfirmed when the
// confirm step failed, so the transaction state decides.
func (o *Orchestrator) flagUnclaimedPayment(ctx context.Context, reg payment.Registration) {
	log := o.log.WithFields(logrus.Fields{"tracking_id": reg.TrackingID, "email": reg.Email})
	txn, err := o.store.Get(ctx, reg.TrackingID)
	if err != nil {
		log.WithError(err).Warn("expired registration without a transaction")
		return
	}
	if txn.State == payment.StateSuccess && txn.UserID == nil {
		log.Error("paid registration expired before completion, needs manual refund")
	}
}

func invalidTier(t tier.Tier) error {
	return &payment.ValidationError{Field: "tier", Message: "unknown tier " + string(t)}
}

func callbackLabel(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, payment.ErrAlreadyResolved):
		return "replay"
	case errors.Is(err, payment.ErrUnknownTransaction):
		return "unknown"
	case errors.Is(err, payment.ErrExpiredRegistration):
		return "expired"
	case errors.Is(err, payment.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
