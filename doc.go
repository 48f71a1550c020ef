// Package barre provides the finance core of a dance studio: a per-dancer
// ledger of charges and payments, and a one-way sync of that ledger into
// an external accounting system.
//
// Barre is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - Charges, finance events and per-dancer event fees
//   - Payments applied oldest charge first, with unapplied credit tracked
//   - Running-balance statements and per-fee payment status
//   - One active accounting connection per studio (QuickBooks, Xero, ...)
//   - Batched, idempotent transaction sync with retry and skip
//   - Reconciliation summaries of what has and has not been synced
//
// # Quick Start
//
// Create an engine over your preferred store:
//
//	import (
//	    "github.com/xraph/barre"
//	    "github.com/xraph/barre/store/postgres"
//	)
//
//	eng := barre.New(postgres.New(db),
//	    barre.WithProvider(quickbooks),
//	    barre.WithAuthorizer(oauth),
//	)
//
//	// Start migrates the store and initializes plugins.
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Ledger
//
// Charges and payments are appended to a dancer's ledger. Recording a
// payment applies it to open charges ordered by date:
//
//	d, _ := eng.CreateDancer(ctx, barre.DancerInput{StudioKey: "studio-pointe", Name: "Dana"})
//	_, _ = eng.CreateCharge(ctx, barre.ChargeInput{DancerID: d.ID, Kind: charge.KindTuition, Amount: barre.USD(12000)})
//	res, _ := eng.RecordPayment(ctx, barre.PaymentInput{DancerID: d.ID, Amount: barre.USD(5000)})
//
//	stmt, _ := eng.ComputeLedger(ctx, d.ID)
//	fmt.Println(stmt.CurrentBalance) // $70.00
//
// A charge becomes immutable once it has been synced. Corrections to a
// synced charge go in as new transactions.
//
// # Accounting Sync
//
// A studio connects one or more providers and activates exactly one.
// RunSync pushes every unsynced transaction to the active provider:
//
//	_, _ = eng.Connect(ctx, "studio-pointe", "quickbooks")
//	_, _ = eng.SetMappings(ctx, "studio-pointe", "quickbooks", mapping.Mapping{...})
//	_, _ = eng.Activate(ctx, "studio-pointe", "quickbooks")
//
//	result, err := eng.RunSync(ctx, "studio-pointe", barre.SyncOptions{Limit: 100})
//
// Every push carries a deterministic idempotency key, so a retried push is
// never booked twice by the provider.
//
// # Money
//
// All monetary calculations use integer arithmetic. The Money type holds
// amounts in the smallest currency unit (cents for USD).
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	dancer_01h2xcejqtf2nbrexx3vqjhp41   // Dancer ID
//	charge_01h2xcejqtf2nbrexx3vqjhp41   // Charge ID
//	payment_01h455vb4pex5vsknk084sn02q  // Payment ID
package barre
