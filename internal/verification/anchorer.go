package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"suarawarga/backend/internal/ledger"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/notify"
	"suarawarga/backend/internal/storage"
	"suarawarga/backend/internal/telemetry"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrAlreadyConfirmed = errors.New("complaint fingerprint already confirmed")
	// ErrSubmissionInFlight means another attempt for the complaint is still
	// pending.
	ErrSubmissionInFlight = errors.New("verification already in flight")

	errStillPending = errors.New("transaction not yet included")
)

// Store is the persistence the anchorer and worker need.
type Store interface {
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	CreateVerificationRecord(ctx context.Context, record *models.VerificationRecord) error
	SetVerificationRef(ctx context.Context, recordID, ref string, method models.AnchorMethod) error
	ConfirmVerification(ctx context.Context, recordID string, c storage.Confirmation) error
	FailVerification(ctx context.Context, recordID, reason string) error
	GetVerificationRecord(ctx context.Context, id string) (*models.VerificationRecord, error)
	ListVerificationRecords(ctx context.Context, complaintID string) ([]models.VerificationRecord, error)
	PendingVerifications(ctx context.Context, limit int) ([]models.VerificationRecord, error)
	RetryableComplaints(ctx context.Context, maxAttempts, limit int) ([]models.Complaint, error)
	UnanchoredComplaints(ctx context.Context, createdBefore time.Time, limit int) ([]models.Complaint, error)
}

type Options struct {
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
	// PollInterval is the first wait between confirmation polls; later waits
	// grow exponentially up to MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

func (o *Options) defaults() {
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 30 * time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 3 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxPollInterval <= 0 {
		o.MaxPollInterval = 30 * time.Second
	}
}

// Anchorer runs the submit and confirm protocol. Within a process at most
// one attempt per complaint runs at a time.
type Anchorer struct {
	store   Store
	client  ledger.Client
	opts    Options
	events  notify.Publisher
	log     logger.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewAnchorer(store Store, client ledger.Client, opts Options, events notify.Publisher, log logger.Logger, m *telemetry.Metrics) *Anchorer {
	opts.defaults()
	if events == nil {
		events = notify.Nop{}
	}
	return &Anchorer{
		store:    store,
		client:   client,
		opts:     opts,
		events:   events,
		log:      log.With(logger.String("component", "verification")),
		metrics:  m,
		inflight: make(map[string]struct{}),
	}
}

func (a *Anchorer) claim(complaintID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[complaintID]; busy {
		return false
	}
	a.inflight[complaintID] = struct{}{}
	return true
}

func (a *Anchorer) release(complaintID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, complaintID)
}

func (a *Anchorer) busy(complaintID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inflight[complaintID]
	return ok
}

// Anchor fingerprints the complaint, submits it and waits for confirmation.
// It returns the attempt's record in its final local state. A confirmation
// that does not arrive within ConfirmTimeout leaves the record pending for
// the worker and is not an error. A failed submission fails the record and
// returns the ledger error.
func (a *Anchorer) Anchor(ctx context.Context, complaintID string) (*models.VerificationRecord, error) {
	if !a.claim(complaintID) {
		return nil, fmt.Errorf("complaint %s: %w", complaintID, ErrSubmissionInFlight)
	}
	defer a.release(complaintID)

	c, err := a.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	if c.VerificationStatus == models.VerificationConfirmed {
		return nil, fmt.Errorf("complaint %s: %w", complaintID, ErrAlreadyConfirmed)
	}
	records, err := a.store.ListVerificationRecords(ctx, complaintID)
	if err != nil {
		return nil, fmt.Errorf("list verification records: %w", err)
	}
	for _, r := range records {
		switch r.Status {
		case models.RecordConfirmed:
			return nil, fmt.Errorf("complaint %s: %w", complaintID, ErrAlreadyConfirmed)
		case models.RecordPending:
			return nil, fmt.Errorf("complaint %s record %s: %w", complaintID, r.ID, ErrSubmissionInFlight)
		}
	}

	rec := &models.VerificationRecord{
		ComplaintID: complaintID,
		Fingerprint: Fingerprint(TupleOf(c)),
	}
	if err := a.store.CreateVerificationRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrAlreadyConfirmed) {
			return nil, fmt.Errorf("complaint %s: %w", complaintID, ErrAlreadyConfirmed)
		}
		return nil, fmt.Errorf("create verification record: %w", err)
	}
	a.publish(ctx, complaintID, models.VerificationPending)

	submitCtx, cancel := context.WithTimeout(ctx, a.opts.SubmitTimeout)
	sub, err := a.client.Submit(submitCtx, ledger.Anchor{
		Fingerprint: rec.Fingerprint,
		ComplaintID: complaintID,
		Timestamp:   time.Now().UTC(),
	})
	cancel()
	if err != nil {
		a.metrics.LedgerOutcome("submit_failed")
		a.log.Warn("ledger submission failed",
			logger.String("complaint_id", complaintID),
			logger.String("record_id", rec.ID),
			logger.Bool("retryable", ledger.IsRetryable(err)),
			logger.Error(err))
		a.fail(ctx, rec, err.Error())
		return a.reload(ctx, rec), fmt.Errorf("submit fingerprint: %w", err)
	}
	a.metrics.LedgerOutcome("submitted")

	if err := a.store.SetVerificationRef(ctx, rec.ID, sub.Ref, sub.Method); err != nil {
		return a.reload(ctx, rec), fmt.Errorf("store ledger ref: %w", err)
	}
	rec.ExternalRef = sub.Ref
	rec.Method = sub.Method

	conf, err := a.await(ctx, sub.Ref)
	if errors.Is(err, errStillPending) {
		a.metrics.LedgerOutcome("pending")
		a.log.Info("confirmation still pending, left to the worker",
			logger.String("complaint_id", complaintID),
			logger.String("ref", sub.Ref))
		return a.reload(ctx, rec), nil
	}
	if err != nil {
		a.log.Warn("confirmation polling failed",
			logger.String("complaint_id", complaintID),
			logger.String("ref", sub.Ref),
			logger.Error(err))
		return a.reload(ctx, rec), nil
	}

	a.finalize(ctx, rec, conf)
	return a.reload(ctx, rec), nil
}

// AnchorAsync runs Anchor in the background with its own context. The
// caller never waits on the ledger.
func (a *Anchorer) AnchorAsync(complaintID string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.SubmitTimeout+a.opts.ConfirmTimeout+10*time.Second)
		defer cancel()

		_, err := a.Anchor(ctx, complaintID)
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyConfirmed), errors.Is(err, ErrSubmissionInFlight):
			a.log.Debug("anchoring skipped", logger.String("complaint_id", complaintID), logger.Error(err))
		default:
			a.log.Warn("background anchoring failed", logger.String("complaint_id", complaintID), logger.Error(err))
		}
	}()
}

// Wait blocks until every AnchorAsync goroutine has returned.
func (a *Anchorer) Wait() { a.wg.Wait() }

// Lookup reads the proof for a ledger reference without touching any state.
func (a *Anchorer) Lookup(ctx context.Context, ref string) (ledger.Proof, error) {
	return a.client.Lookup(ctx, ref)
}

// await polls the ledger with exponential backoff until the transaction is
// included or rejected, or ConfirmTimeout passes.
func (a *Anchorer) await(ctx context.Context, ref string) (ledger.Confirmation, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.opts.PollInterval
	b.MaxInterval = a.opts.MaxPollInterval
	b.MaxElapsedTime = a.opts.ConfirmTimeout

	var conf ledger.Confirmation
	op := func() error {
		c, err := a.client.Confirm(ctx, ref)
		if err != nil {
			if ledger.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if c.State == ledger.StatePending {
			return errStillPending
		}
		conf = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ledger.IsRetryable(err) || errors.Is(err, context.Canceled) {
			return conf, errStillPending
		}
		return conf, err
	}
	return conf, nil
}

// finalize records a definitive ledger answer for a pending record.
func (a *Anchorer) finalize(ctx context.Context, rec *models.VerificationRecord, conf ledger.Confirmation) {
	switch conf.State {
	case ledger.StateIncluded:
		err := a.store.ConfirmVerification(ctx, rec.ID, storage.Confirmation{
			BlockNumber:     conf.BlockNumber,
			LedgerTimestamp: conf.Timestamp,
			Cost:            conf.Cost,
		})
		if errors.Is(err, storage.ErrAlreadyConfirmed) {
			// another attempt confirmed first; this one must not compete
			a.metrics.LedgerOutcome("duplicate")
			a.fail(ctx, rec, "complaint already confirmed by another record")
			return
		}
		if err != nil {
			a.log.Error("confirm verification", logger.String("record_id", rec.ID), logger.Error(err))
			return
		}
		a.metrics.LedgerOutcome("confirmed")
		a.metrics.Confirmed(rec.CreatedAt)
		a.log.Info("fingerprint confirmed",
			logger.String("complaint_id", rec.ComplaintID),
			logger.String("ref", rec.ExternalRef),
			logger.Uint64("block", conf.BlockNumber))
		a.publish(ctx, rec.ComplaintID, models.VerificationConfirmed)

	case ledger.StateRejected:
		a.metrics.LedgerOutcome("rejected")
		a.fail(ctx, rec, conf.Reason)
	}
}

func (a *Anchorer) fail(ctx context.Context, rec *models.VerificationRecord, reason string) {
	// the request context may already be done; the record must still close
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.FailVerification(ctx, rec.ID, reason); err != nil {
		a.log.Error("fail verification", logger.String("record_id", rec.ID), logger.Error(err))
		return
	}
	a.publish(ctx, rec.ComplaintID, models.VerificationFailed)
}

func (a *Anchorer) reload(ctx context.Context, rec *models.VerificationRecord) *models.VerificationRecord {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	fresh, err := a.store.GetVerificationRecord(ctx, rec.ID)
	if err != nil {
		return rec
	}
	return fresh
}

func (a *Anchorer) publish(ctx context.Context, complaintID string, status models.VerificationStatus) {
	a.events.Publish(ctx, notify.Event{
		Type:        notify.EventVerificationChanged,
		ComplaintID: complaintID,
		NewStatus:   string(status),
	})
}
