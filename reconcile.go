package barre

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/barre/id"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

// SummaryItem is one transaction listed in a reconciliation summary.
// Status is empty for transactions that were never attempted.
type SummaryItem struct {
	TransactionID   string            `json:"transaction_id"`
	TransactionKind txn.Kind          `json:"transaction_kind"`
	DancerID        id.DancerID       `json:"dancer_id"`
	Date            time.Time         `json:"date"`
	Description     string            `json:"description,omitempty"`
	Amount          types.Money       `json:"amount"`
	Status          syncrecord.Status `json:"status,omitempty"`
	RetryCount      int               `json:"retry_count,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

// SyncedTotals sums transactions whose record is synced.
type SyncedTotals struct {
	Charges  types.Money `json:"charges"`
	Payments types.Money `json:"payments"`
	Net      types.Money `json:"net"`
}

// OutstandingSummary lists transactions still waiting to reach the
// provider. Total is signed: charges add, payments subtract.
type OutstandingSummary struct {
	Count int           `json:"count"`
	Total types.Money   `json:"total"`
	Items []SummaryItem `json:"items"`
}

// SkippedSummary lists transactions the provider definitively refused.
type SkippedSummary struct {
	Count int           `json:"count"`
	Items []SummaryItem `json:"items"`
}

// Summary reconciles a studio's ledger against one provider.
type Summary struct {
	StudioKey    string             `json:"studio_key"`
	Provider     string             `json:"provider,omitempty"`
	SyncedTotals SyncedTotals       `json:"synced_totals"`
	Outstanding  OutstandingSummary `json:"outstanding"`
	Skipped      SkippedSummary     `json:"skipped"`
}

// GetSummary reports what has and has not reached the accounting
// provider. An empty providerName uses the active connection; with no
// active connection every transaction counts as outstanding.
func (e *Engine) GetSummary(ctx context.Context, studioKey, providerName string) (*Summary, error) {
	studioKey = strings.TrimSpace(studioKey)
	if studioKey == "" {
		return nil, ValidationError{Field: "studio_key", Message: "is required"}
	}
	providerName = strings.ToLower(strings.TrimSpace(providerName))
	if providerName == "" {
		conn, err := e.store.GetActiveConnection(ctx, studioKey)
		switch {
		case err == nil:
			providerName = conn.Provider
		case !errors.Is(err, ErrNoActiveConnection):
			return nil, fmt.Errorf("barre: summary: %w", err)
		}
	}

	zero := types.Zero(e.currency)
	sum := &Summary{
		StudioKey:    studioKey,
		Provider:     providerName,
		SyncedTotals: SyncedTotals{Charges: zero, Payments: zero, Net: zero},
		Outstanding:  OutstandingSummary{Total: zero, Items: []SummaryItem{}},
		Skipped:      SkippedSummary{Items: []SummaryItem{}},
	}

	txns, err := e.store.ListTransactions(ctx, studioKey, txn.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("barre: summary: %w", err)
	}
	records := map[string]*syncrecord.Record{}
	if providerName != "" {
		list, err := e.store.ListSyncRecords(ctx, studioKey, syncrecord.ListOpts{Provider: providerName})
		if err != nil {
			return nil, fmt.Errorf("barre: summary: %w", err)
		}
		for _, r := range list {
			records[r.TransactionID] = r
		}
	}

	for _, t := range txns {
		rec := records[t.ID().String()]
		item := summaryItem(t, rec)

		switch {
		case rec != nil && rec.Status == syncrecord.StatusSynced:
			if t.Kind == txn.KindCharge {
				sum.SyncedTotals.Charges = sum.SyncedTotals.Charges.Add(t.Amount())
			} else {
				sum.SyncedTotals.Payments = sum.SyncedTotals.Payments.Add(t.Amount())
			}
		case rec != nil && rec.Status == syncrecord.StatusSkipped:
			sum.Skipped.Items = append(sum.Skipped.Items, item)
		default:
			sum.Outstanding.Items = append(sum.Outstanding.Items, item)
			sum.Outstanding.Total = sum.Outstanding.Total.Add(t.SignedAmount())
		}
	}
	sum.SyncedTotals.Net = sum.SyncedTotals.Charges.Subtract(sum.SyncedTotals.Payments)
	sum.Outstanding.Count = len(sum.Outstanding.Items)
	sum.Skipped.Count = len(sum.Skipped.Items)

	return sum, nil
}

func summaryItem(t txn.Transaction, rec *syncrecord.Record) SummaryItem {
	item := SummaryItem{
		TransactionID:   t.ID().String(),
		TransactionKind: t.Kind,
		DancerID:        t.DancerID(),
		Date:            t.Date(),
		Description:     t.Description(),
		Amount:          t.Amount(),
	}
	if rec != nil {
		item.Status = rec.Status
		item.RetryCount = rec.RetryCount
		item.LastError = rec.LastError
	}
	return item
}
