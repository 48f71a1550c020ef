package barre

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/barre/balance"
	"github.com/xraph/barre/charge"
	"github.com/xraph/barre/connection"
	"github.com/xraph/barre/id"
	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/payment"
	"github.com/xraph/barre/plugin"
	"github.com/xraph/barre/provider"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

// selectionPage is how many transactions are scanned per store round trip
// while looking for sync candidates.
const selectionPage = 200

// SyncOptions controls one sync run. An empty Provider means the studio's
// active connection. TransactionIDs names the exact transactions to push;
// named transactions ignore the retry cap and re-attempt skipped records.
type SyncOptions struct {
	Provider       string        `json:"provider,omitempty"`
	TransactionIDs []string      `json:"transaction_ids,omitempty"`
	Limit          int           `json:"limit,omitempty"`
	DryRun         bool          `json:"dry_run,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// RetryOptions controls RetryFailedSync.
type RetryOptions struct {
	Provider string        `json:"provider,omitempty"`
	Limit    int           `json:"limit,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// SyncOutcome is what happened to one transaction in a run.
type SyncOutcome string

const (
	OutcomeSynced    SyncOutcome = "synced"
	OutcomeFailed    SyncOutcome = "failed"
	OutcomeSkipped   SyncOutcome = "skipped"
	OutcomeDeferred  SyncOutcome = "deferred"
	OutcomeUnchanged SyncOutcome = "unchanged"
	// OutcomePlanned is reported by dry runs for transactions that would
	// be pushed.
	OutcomePlanned SyncOutcome = "planned"
)

// TransactionResult is the per-transaction line of a sync run.
type TransactionResult struct {
	TransactionID    string                `json:"transaction_id"`
	TransactionKind  txn.Kind              `json:"transaction_kind"`
	ObjectType       syncrecord.ObjectType `json:"object_type,omitempty"`
	Outcome          SyncOutcome           `json:"outcome"`
	Update           bool                  `json:"update,omitempty"`
	ExternalObjectID string                `json:"external_object_id,omitempty"`
	Fingerprint      string                `json:"fingerprint,omitempty"`
	RetryCount       int                   `json:"retry_count"`
	Error            string                `json:"error,omitempty"`
	Err              error                 `json:"-"`
}

// SyncResult summarizes a run. The counts always add up to len(Results).
type SyncResult struct {
	StudioKey string              `json:"studio_key"`
	Provider  string              `json:"provider"`
	DryRun    bool                `json:"dry_run"`
	Synced    int                 `json:"synced"`
	Failed    int                 `json:"failed"`
	Skipped   int                 `json:"skipped"`
	Deferred  int                 `json:"deferred"`
	Unchanged int                 `json:"unchanged"`
	Planned   int                 `json:"planned"`
	Missing   []string            `json:"missing,omitempty"`
	Results   []TransactionResult `json:"results"`
}

type syncTarget struct {
	conn *connection.Connection
	prov provider.Provider
}

type syncRun struct {
	explicit bool
	dryRun   bool
	timeout  time.Duration
}

type candidate struct {
	txn    txn.Transaction
	record *syncrecord.Record
}

// pushPlan is the provider request for one transaction. blocked holds a
// local reason the push cannot be made yet.
type pushPlan struct {
	req         *provider.PushRequest
	fingerprint string
	blocked     error
}

// ──────────────────────────────────────────────────
// Sync runs
// ──────────────────────────────────────────────────

// RunSync pushes a studio's unsynced and previously failed transactions to
// an accounting provider, most recent first, up to the limit. Per
// transaction failures never abort the run; they are reported in the
// result.
func (e *Engine) RunSync(ctx context.Context, studioKey string, opts SyncOptions) (*SyncResult, error) {
	tg, err := e.syncTarget(ctx, studioKey, opts.Provider)
	if err != nil {
		return nil, err
	}

	run := &syncRun{
		explicit: len(opts.TransactionIDs) > 0,
		dryRun:   opts.DryRun,
		timeout:  e.callTimeout(opts.Timeout),
	}

	var (
		cands   []candidate
		missing []string
	)
	if run.explicit {
		cands, missing, err = e.selectNamed(ctx, tg, opts.TransactionIDs)
		if err == nil && opts.Limit > 0 && len(cands) > opts.Limit {
			cands = cands[:opts.Limit]
		}
	} else {
		cands, err = e.selectEligible(ctx, tg, syncLimit(opts.Limit))
	}
	if err != nil {
		return nil, fmt.Errorf("barre: sync selection: %w", err)
	}

	return e.execute(ctx, tg, run, cands, missing), nil
}

// RetryFailedSync re-runs failed records only, most recently attempted
// first. Records that reached the retry cap are left alone.
func (e *Engine) RetryFailedSync(ctx context.Context, studioKey string, opts RetryOptions) (*SyncResult, error) {
	tg, err := e.syncTarget(ctx, studioKey, opts.Provider)
	if err != nil {
		return nil, err
	}
	limit := syncLimit(opts.Limit)

	records, err := e.store.ListSyncRecords(ctx, studioKey, syncrecord.ListOpts{
		Provider: tg.conn.Provider,
		Status:   syncrecord.StatusFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("barre: retry selection: %w", err)
	}

	byTx := make(map[string]*syncrecord.Record, limit)
	ids := make([]string, 0, limit)
	for _, r := range records {
		if r.RetryCount >= e.maxRetries {
			continue
		}
		byTx[r.TransactionID] = r
		ids = append(ids, r.TransactionID)
		if len(ids) == limit {
			break
		}
	}

	var cands []candidate
	if len(ids) > 0 {
		txns, err := e.store.ListTransactions(ctx, studioKey, txn.ListOpts{IDs: ids})
		if err != nil {
			return nil, fmt.Errorf("barre: retry selection: %w", err)
		}
		for _, t := range txns {
			cands = append(cands, candidate{txn: t, record: byTx[t.ID().String()]})
		}
	}

	run := &syncRun{timeout: e.callTimeout(opts.Timeout)}
	return e.execute(ctx, tg, run, cands, nil), nil
}

func (e *Engine) syncTarget(ctx context.Context, studioKey, providerName string) (*syncTarget, error) {
	var (
		conn *connection.Connection
		err  error
	)
	if strings.TrimSpace(providerName) == "" {
		if strings.TrimSpace(studioKey) == "" {
			return nil, ValidationError{Field: "studio_key", Message: "is required"}
		}
		conn, err = e.store.GetActiveConnection(ctx, studioKey)
	} else {
		var key string
		if key, providerName, err = connectionKey(studioKey, providerName); err != nil {
			return nil, err
		}
		conn, err = e.store.GetConnection(ctx, key, providerName)
	}
	if err != nil {
		return nil, err
	}
	if !conn.Usable() {
		return nil, fmt.Errorf("%w: %s", ErrConnectionClosed, conn.Provider)
	}
	prov, err := e.provider(conn.Provider)
	if err != nil {
		return nil, err
	}
	return &syncTarget{conn: conn, prov: prov}, nil
}

func (e *Engine) callTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return e.providerTimeout
}

func syncLimit(n int) int {
	if n > 0 {
		return n
	}
	return DefaultSyncLimit
}

// ──────────────────────────────────────────────────
// Selection
// ──────────────────────────────────────────────────

// selectNamed resolves caller-named transactions. Unknown ids are
// returned separately.
func (e *Engine) selectNamed(ctx context.Context, tg *syncTarget, ids []string) ([]candidate, []string, error) {
	var missing []string
	valid := make([]string, 0, len(ids))
	for _, txID := range uniqueStrings(ids) {
		if _, err := id.ParseTransactionID(txID); err != nil {
			missing = append(missing, txID)
			continue
		}
		valid = append(valid, txID)
	}
	if len(valid) == 0 {
		return nil, missing, nil
	}
	ids = valid

	txns, err := e.store.ListTransactions(ctx, tg.conn.StudioKey, txn.ListOpts{IDs: ids})
	if err != nil {
		return nil, nil, err
	}
	records, err := e.recordsFor(ctx, tg, txns)
	if err != nil {
		return nil, nil, err
	}

	found := make(map[string]bool, len(txns))
	cands := make([]candidate, 0, len(txns))
	for _, t := range txns {
		txID := t.ID().String()
		found[txID] = true
		cands = append(cands, candidate{txn: t, record: records[txID]})
	}
	for _, txID := range ids {
		if !found[txID] {
			missing = append(missing, txID)
		}
	}
	return cands, missing, nil
}

// selectEligible scans the studio's transactions most recent first and
// keeps those that need a push.
func (e *Engine) selectEligible(ctx context.Context, tg *syncTarget, limit int) ([]candidate, error) {
	staleBefore := e.now().Add(-e.pendingLease)
	cands := make([]candidate, 0, limit)
	allocs := allocationCache{}

	for offset := 0; ; offset += selectionPage {
		txns, err := e.store.ListTransactions(ctx, tg.conn.StudioKey, txn.ListOpts{Limit: selectionPage, Offset: offset})
		if err != nil {
			return nil, err
		}
		records, err := e.recordsFor(ctx, tg, txns)
		if err != nil {
			return nil, err
		}
		for _, t := range txns {
			rec := records[t.ID().String()]
			ok, err := e.eligible(ctx, allocs, t, rec, tg.conn.Mapping, staleBefore)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			cands = append(cands, candidate{txn: t, record: rec})
			if len(cands) == limit {
				return cands, nil
			}
		}
		if len(txns) < selectionPage {
			return cands, nil
		}
	}
}

// eligible decides whether an automatic run should push t. Content drift
// covers corrected transactions, payments whose applications moved, and
// mappings fixed after a skip.
func (e *Engine) eligible(ctx context.Context, allocs allocationCache, t txn.Transaction, rec *syncrecord.Record, m mapping.Mapping, staleBefore time.Time) (bool, error) {
	if rec == nil {
		return true, nil
	}
	switch rec.Status {
	case syncrecord.StatusFailed:
		return rec.RetryCount < e.maxRetries, nil
	case syncrecord.StatusPending:
		return rec.UpdatedAt.Before(staleBefore), nil
	case syncrecord.StatusSynced, syncrecord.StatusSkipped:
		var applied *balance.PaymentAllocation
		if t.Kind == txn.KindPayment {
			var err error
			if applied, err = e.paymentAllocation(ctx, allocs, t.Payment); err != nil {
				return false, err
			}
		}
		fp, err := transactionFingerprint(t, m, applied)
		if err != nil {
			return false, err
		}
		return fp != rec.Fingerprint, nil
	default:
		return false, nil
	}
}

func (e *Engine) recordsFor(ctx context.Context, tg *syncTarget, txns []txn.Transaction) (map[string]*syncrecord.Record, error) {
	out := make(map[string]*syncrecord.Record, len(txns))
	if len(txns) == 0 {
		return out, nil
	}
	ids := make([]string, len(txns))
	for i, t := range txns {
		ids[i] = t.ID().String()
	}
	records, err := e.store.ListSyncRecords(ctx, tg.conn.StudioKey, syncrecord.ListOpts{
		Provider:       tg.conn.Provider,
		TransactionIDs: ids,
	})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out[r.TransactionID] = r
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────

func (e *Engine) execute(ctx context.Context, tg *syncTarget, run *syncRun, cands []candidate, missing []string) *SyncResult {
	started := time.Now()
	results := make([]TransactionResult, len(cands))

	// Charges run first so payments in the same run can reference the
	// invoices they apply to.
	var charges, payments []int
	for i, c := range cands {
		if c.txn.Kind == txn.KindCharge {
			charges = append(charges, i)
		} else {
			payments = append(payments, i)
		}
	}
	for _, phase := range [][]int{charges, payments} {
		var g errgroup.Group
		g.SetLimit(e.syncWorkers)
		for _, i := range phase {
			g.Go(func() error {
				results[i] = e.syncOne(ctx, tg, run, cands[i])
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // workers report through results
	}

	out := &SyncResult{
		StudioKey: tg.conn.StudioKey,
		Provider:  tg.conn.Provider,
		DryRun:    run.dryRun,
		Missing:   missing,
		Results:   results,
	}
	var lastError string
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSynced:
			out.Synced++
		case OutcomeFailed:
			out.Failed++
			lastError = r.Error
		case OutcomeSkipped:
			out.Skipped++
		case OutcomeDeferred:
			out.Deferred++
		case OutcomeUnchanged:
			out.Unchanged++
		case OutcomePlanned:
			out.Planned++
		}
	}

	if !run.dryRun {
		if err := e.store.RecordSyncOutcome(ctx, tg.conn.ID, connection.SyncOutcome{
			At:        e.now(),
			LastError: lastError,
		}); err != nil {
			e.logger.Warn("failed to record sync outcome on connection",
				"connection_id", tg.conn.ID.String(),
				"error", err,
			)
		}
	}

	elapsed := time.Since(started)
	e.plugins.EmitSyncRunCompleted(ctx, plugin.SyncRun{
		StudioKey: out.StudioKey,
		Provider:  out.Provider,
		Synced:    out.Synced,
		Failed:    out.Failed,
		Skipped:   out.Skipped,
		Deferred:  out.Deferred,
		Unchanged: out.Unchanged,
		DryRun:    out.DryRun,
		Elapsed:   elapsed,
	})
	e.logger.Info("sync run completed",
		"studio_key", out.StudioKey,
		"provider", out.Provider,
		"dry_run", out.DryRun,
		"synced", out.Synced,
		"failed", out.Failed,
		"skipped", out.Skipped,
		"deferred", out.Deferred,
		"unchanged", out.Unchanged,
		"elapsed", elapsed,
	)
	return out
}

func (e *Engine) syncOne(ctx context.Context, tg *syncTarget, run *syncRun, c candidate) (res TransactionResult) {
	t := c.txn
	txID := t.ID().String()
	res = TransactionResult{TransactionID: txID, TransactionKind: t.Kind}

	ctx, span := e.tracer.Start(ctx, "barre.sync.transaction", trace.WithAttributes(
		attribute.String("barre.studio_key", tg.conn.StudioKey),
		attribute.String("barre.provider", tg.conn.Provider),
		attribute.String("barre.transaction_id", txID),
		attribute.String("barre.transaction_kind", string(t.Kind)),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("barre.sync.outcome", string(res.Outcome)),
			attribute.Int("barre.sync.retry_count", res.RetryCount),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		if res.Outcome == OutcomeFailed {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return res.with(OutcomeDeferred, err)
	}

	plan, err := e.planPush(ctx, tg, t)
	if err != nil {
		return res.with(OutcomeFailed, err)
	}
	res.ObjectType = plan.req.ObjectType
	res.Fingerprint = plan.fingerprint

	rec := c.record
	if rec != nil {
		res.RetryCount = rec.RetryCount
		res.ExternalObjectID = rec.ExternalObjectID
		if rec.Status == syncrecord.StatusSynced && rec.Fingerprint == plan.fingerprint {
			res.Outcome = OutcomeUnchanged
			return res
		}
	}

	if run.dryRun {
		res.Update = rec != nil && rec.ExternalObjectID != "" && rec.ObjectType == plan.req.ObjectType
		if errors.Is(plan.blocked, ErrUnmapped) {
			return res.with(OutcomeSkipped, plan.blocked)
		}
		res.Outcome = OutcomePlanned
		return res
	}

	var prevType syncrecord.ObjectType
	if rec != nil {
		prevType = rec.ObjectType
	}
	rec, err = e.claimRecord(ctx, tg, run, t, rec, plan)
	if err != nil {
		if errors.Is(err, ErrSyncInFlight) {
			e.logger.Debug("sync record held by another run",
				"transaction_id", txID,
				"provider", tg.conn.Provider,
			)
			return res.with(OutcomeDeferred, err)
		}
		return res.with(OutcomeFailed, err)
	}
	res.RetryCount = rec.RetryCount
	if rec.ExternalObjectID != "" && prevType == plan.req.ObjectType {
		plan.req.ExternalObjectID = rec.ExternalObjectID
		res.Update = true
	}

	if plan.blocked != nil {
		if errors.Is(plan.blocked, ErrUnmapped) {
			return e.finish(ctx, tg, t, rec, res, syncrecord.StatusSkipped, "", plan.blocked)
		}
		return e.finish(ctx, tg, t, rec, res, syncrecord.StatusFailed, "", plan.blocked)
	}

	callCtx, cancel := context.WithTimeout(ctx, run.timeout)
	pushed, err := tg.prov.Push(callCtx, plan.req)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case err == nil && pushed != nil && pushed.ExternalObjectID != "":
		return e.finish(ctx, tg, t, rec, res, syncrecord.StatusSynced, pushed.ExternalObjectID, nil)
	case err == nil:
		perr := &ProviderError{Provider: tg.conn.Provider, Op: "push", Transient: true, Err: errors.New("no external object id returned")}
		return e.finish(ctx, tg, t, rec, res, syncrecord.StatusFailed, "", perr)
	case provider.IsRejection(err):
		perr := &ProviderError{Provider: tg.conn.Provider, Op: "push", Err: err}
		return e.finish(ctx, tg, t, rec, res, syncrecord.StatusSkipped, "", perr)
	default:
		if timedOut {
			err = fmt.Errorf("timed out after %s: %w", run.timeout, err)
		}
		perr := &ProviderError{Provider: tg.conn.Provider, Op: "push", Transient: true, Err: err}
		return e.finish(ctx, tg, t, rec, res, syncrecord.StatusFailed, "", perr)
	}
}

// claimRecord takes ownership of the (transaction, provider) record for
// this run, creating it on first sight.
func (e *Engine) claimRecord(ctx context.Context, tg *syncTarget, run *syncRun, t txn.Transaction, rec *syncrecord.Record, plan *pushPlan) (*syncrecord.Record, error) {
	now := e.now()
	txID := t.ID().String()

	if rec == nil {
		fresh := &syncrecord.Record{
			Entity:          types.NewEntityAt(now),
			ID:              id.NewSyncRecordID(),
			StudioKey:       tg.conn.StudioKey,
			Provider:        tg.conn.Provider,
			ConnectionID:    tg.conn.ID,
			TransactionID:   txID,
			TransactionKind: t.Kind,
			ObjectType:      plan.req.ObjectType,
			IdempotencyKey:  plan.req.IdempotencyKey,
			Fingerprint:     plan.fingerprint,
			Status:          syncrecord.StatusPending,
			LastAttemptAt:   &now,
			ClaimToken:      syncrecord.NewClaimToken(),
		}
		err := e.store.CreateSyncRecord(ctx, fresh)
		if err == nil {
			return fresh, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		if rec, err = e.store.GetSyncRecord(ctx, txID, tg.conn.Provider); err != nil {
			return nil, err
		}
	}

	from := []syncrecord.Status{syncrecord.StatusFailed}
	drifted := rec.Fingerprint != plan.fingerprint
	if run.explicit || drifted {
		from = append(from, syncrecord.StatusSkipped)
	}
	if drifted {
		from = append(from, syncrecord.StatusSynced)
	}
	return e.store.ClaimSyncRecord(ctx, syncrecord.Claim{
		RecordID:     rec.ID,
		From:         from,
		StaleBefore:  now.Add(-e.pendingLease),
		At:           now,
		Token:        syncrecord.NewClaimToken(),
		ConnectionID: tg.conn.ID,
		Fingerprint:  plan.fingerprint,
		ObjectType:   plan.req.ObjectType,
	})
}

// finish writes the outcome of a claimed record and notifies plugins.
func (e *Engine) finish(ctx context.Context, tg *syncTarget, t txn.Transaction, rec *syncrecord.Record, res TransactionResult, status syncrecord.Status, externalID string, cause error) TransactionResult {
	now := e.now()
	rec.Status = status
	rec.UpdatedAt = now
	switch status {
	case syncrecord.StatusSynced:
		rec.ExternalObjectID = externalID
		rec.SyncedAt = &now
		rec.LastError = ""
	case syncrecord.StatusFailed:
		rec.RetryCount++
		rec.LastError = cause.Error()
	case syncrecord.StatusSkipped:
		rec.LastError = cause.Error()
	}

	if err := e.store.CompleteSyncRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			e.logger.Warn("sync record reclaimed before completion",
				"transaction_id", rec.TransactionID,
				"provider", rec.Provider,
			)
			return res.with(OutcomeDeferred, fmt.Errorf("%w: %s", ErrSyncInFlight, rec.TransactionID))
		}
		return res.with(OutcomeFailed, fmt.Errorf("barre: complete sync record: %w", err))
	}

	res.RetryCount = rec.RetryCount
	res.ExternalObjectID = rec.ExternalObjectID

	switch status {
	case syncrecord.StatusSynced:
		if t.Kind == txn.KindCharge {
			if err := e.store.LockCharge(ctx, t.Charge.ID); err != nil {
				e.logger.Warn("failed to lock synced charge",
					"charge_id", t.Charge.ID.String(),
					"error", err,
				)
			}
		}
		e.logger.Debug("transaction synced",
			"transaction_id", rec.TransactionID,
			"provider", rec.Provider,
			"external_object_id", rec.ExternalObjectID,
		)
		e.plugins.EmitTransactionSynced(ctx, rec)
		res.Outcome = OutcomeSynced
		return res
	case syncrecord.StatusSkipped:
		e.logger.Info("transaction skipped",
			"transaction_id", rec.TransactionID,
			"provider", rec.Provider,
			"reason", rec.LastError,
		)
		e.plugins.EmitSyncSkipped(ctx, rec, rec.LastError)
		return res.with(OutcomeSkipped, cause)
	default:
		e.logger.Warn("transaction sync failed",
			"transaction_id", rec.TransactionID,
			"provider", rec.Provider,
			"retry_count", rec.RetryCount,
			"error", cause,
		)
		e.plugins.EmitSyncFailed(ctx, rec, cause)
		return res.with(OutcomeFailed, cause)
	}
}

func (r TransactionResult) with(outcome SyncOutcome, err error) TransactionResult {
	r.Outcome = outcome
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// ──────────────────────────────────────────────────
// Provider requests
// ──────────────────────────────────────────────────

// planPush builds the provider request for t. Charges become invoices;
// payments become payments against the invoices they were applied to, or
// bank transactions when nothing was applied.
func (e *Engine) planPush(ctx context.Context, tg *syncTarget, t txn.Transaction) (*pushPlan, error) {
	m := tg.conn.Mapping
	var applied *balance.PaymentAllocation
	if t.Kind == txn.KindPayment {
		var err error
		if applied, err = e.paymentAllocation(ctx, nil, t.Payment); err != nil {
			return nil, err
		}
	}
	fp, err := transactionFingerprint(t, m, applied)
	if err != nil {
		return nil, err
	}
	txID := t.ID().String()
	req := &provider.PushRequest{
		StudioKey:       tg.conn.StudioKey,
		TenantID:        tg.conn.Tokens.ExternalTenantID,
		TransactionID:   txID,
		TransactionKind: t.Kind,
		IdempotencyKey:  syncrecord.IdempotencyKey(txID, tg.conn.Provider),
		ContactID:       t.DancerID().String(),
		Date:            t.Date(),
		Description:     t.Description(),
		Amount:          t.Amount(),
	}
	plan := &pushPlan{req: req, fingerprint: fp}

	switch t.Kind {
	case txn.KindCharge:
		c := t.Charge
		req.ObjectType = syncrecord.ObjectInvoice
		req.DueDate = c.DueDate
		if req.Description == "" {
			req.Description = chargeTitle(c.Kind)
		}
		if !c.EventID.IsNil() {
			req.Reference = c.EventID.String()
		}
		account, ok := m.ChargeAccount(c)
		if !ok {
			plan.blocked = fmt.Errorf("%w: no account for %s charges", ErrUnmapped, c.Kind)
		}
		req.Lines = []provider.Line{{
			Description: req.Description,
			AccountCode: account,
			TaxCode:     m.TaxCode,
			Amount:      c.Amount,
		}}

	case txn.KindPayment:
		p := t.Payment
		req.Reference = p.Reference
		req.DepositAccount = m.DepositAccount

		if applied == nil || len(applied.Applications) == 0 {
			req.ObjectType = syncrecord.ObjectBankTransaction
			if m.DepositAccount == "" {
				plan.blocked = fmt.Errorf("%w: no deposit account for unapplied payment", ErrUnmapped)
			}
			return plan, nil
		}

		req.ObjectType = syncrecord.ObjectPayment
		for _, app := range applied.Applications {
			invoice, err := e.store.GetSyncRecord(ctx, app.ChargeID.String(), tg.conn.Provider)
			if err != nil && !errors.Is(err, ErrSyncRecordNotFound) {
				return nil, err
			}
			if invoice == nil || invoice.Status != syncrecord.StatusSynced || invoice.ExternalObjectID == "" {
				plan.blocked = fmt.Errorf("%w: %s", ErrSyncDependency, app.ChargeID)
				continue
			}
			req.Applications = append(req.Applications, provider.Application{
				ChargeID:          app.ChargeID.String(),
				ExternalInvoiceID: invoice.ExternalObjectID,
				Amount:            app.Amount,
			})
		}
	}
	return plan, nil
}

// fingerprintContent is the canonical content hashed to detect drift.
// Field order is fixed by the struct.
type fingerprintContent struct {
	ID           string      `json:"id"`
	Kind         txn.Kind    `json:"kind"`
	Amount       int64       `json:"amount"`
	Currency     string      `json:"currency"`
	Date         string      `json:"date"`
	DueDate      string      `json:"due_date,omitempty"`
	Description  string      `json:"description,omitempty"`
	ChargeKind   charge.Kind `json:"charge_kind,omitempty"`
	EventFeeID   string      `json:"event_fee_id,omitempty"`
	Reference    string      `json:"reference,omitempty"`
	Method       string      `json:"method,omitempty"`
	Account      string      `json:"account,omitempty"`
	TaxCode      string      `json:"tax_code,omitempty"`
	Deposit      string      `json:"deposit,omitempty"`

	// Applications are in replay order, so a correction that moves a
	// payment onto other charges changes the hash.
	Applications []fingerprintApplication `json:"applications,omitempty"`
}

type fingerprintApplication struct {
	ChargeID string `json:"charge_id"`
	Amount   int64  `json:"amount"`
}

// transactionFingerprint hashes t as it would be pushed under m. applied
// is the payment's current allocation and is ignored for charges.
func transactionFingerprint(t txn.Transaction, m mapping.Mapping, applied *balance.PaymentAllocation) (string, error) {
	fc := fingerprintContent{
		ID:          t.ID().String(),
		Kind:        t.Kind,
		Amount:      t.Amount().Amount,
		Currency:    t.Amount().Currency,
		Date:        t.Date().UTC().Format(time.RFC3339),
		Description: t.Description(),
	}
	switch t.Kind {
	case txn.KindCharge:
		c := t.Charge
		fc.ChargeKind = c.Kind
		fc.EventFeeID = c.EventFeeID.String()
		if c.DueDate != nil {
			fc.DueDate = c.DueDate.UTC().Format(time.RFC3339)
		}
		fc.Account, _ = m.ChargeAccount(c)
		fc.TaxCode = m.TaxCode
	case txn.KindPayment:
		p := t.Payment
		fc.EventFeeID = p.EventFeeID.String()
		fc.Reference = p.Reference
		fc.Method = string(p.Method)
		fc.Deposit = m.DepositAccount
		if applied != nil {
			for _, app := range applied.Applications {
				fc.Applications = append(fc.Applications, fingerprintApplication{
					ChargeID: app.ChargeID.String(),
					Amount:   app.Amount.Amount,
				})
			}
		}
	}
	return syncrecord.Fingerprint(fc)
}

// allocationCache holds one ledger replay per dancer for the length of a
// selection pass.
type allocationCache map[string]*balance.Allocation

// paymentAllocation replays p's dancer ledger and returns how p is spread
// across charges. A nil cache always replays.
func (e *Engine) paymentAllocation(ctx context.Context, cache allocationCache, p *payment.Payment) (*balance.PaymentAllocation, error) {
	key := p.DancerID.String()
	alloc, ok := cache[key]
	if !ok {
		charges, payments, err := e.store.ListDancerTransactions(ctx, p.DancerID)
		if err != nil {
			return nil, err
		}
		alloc = balance.Allocate(e.currency, charges, payments)
		if cache != nil {
			cache[key] = alloc
		}
	}
	return alloc.Payment(p.ID), nil
}

func chargeTitle(k charge.Kind) string {
	if k == "" {
		return "Charge"
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
