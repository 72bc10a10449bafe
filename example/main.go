package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/meikuraledutech/cellgraph"
	"github.com/meikuraledutech/cellgraph/sqlite"
)

func main() {
	ctx := context.Background()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer store.Close()
	store.DB().SetMaxOpenConns(1)

	// 1. Create tables
	if err := store.CreateSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}
	fmt.Println("schema created")

	customers := &cellgraph.Table{ID: "customers", Name: "Customers", DBTableName: "customers"}
	invoices := &cellgraph.Table{ID: "invoices", Name: "Invoices", DBTableName: "invoices"}
	for _, t := range []*cellgraph.Table{customers, invoices} {
		if err := store.CreateTable(ctx, t); err != nil {
			log.Fatalf("create table %s: %v", t.Name, err)
		}
	}

	// ── Fields: a link pair, a rollup and a formula ───────────────────
	customer := &cellgraph.Field{ID: "customer", TableID: invoices.ID, Name: "Customer", Type: cellgraph.FieldLink,
		Options: cellgraph.FieldOptions{
			Relationship:     cellgraph.ManyOne,
			ForeignTableID:   customers.ID,
			LookupFieldID:    "name",
			DBForeignKeyName: cellgraph.ForeignKeyName("customer"),
			SymmetricFieldID: "invoices",
		}}
	fields := []*cellgraph.Field{
		{ID: "name", TableID: customers.ID, Name: "Name", Type: cellgraph.FieldPlain},
		{ID: "amount", TableID: invoices.ID, Name: "Amount", Type: cellgraph.FieldPlain},
		customer,
		{ID: "invoices", TableID: customers.ID, Name: "Invoices", Type: cellgraph.FieldLink,
			Options: cellgraph.SymmetricLinkOptions(customer, "amount")},
		{ID: "total", TableID: customers.ID, Name: "Total", Type: cellgraph.FieldRollup,
			Options: cellgraph.FieldOptions{LinkFieldID: "invoices", LookupFieldID: "amount", Aggregation: cellgraph.AggSum}},
		{ID: "tier", TableID: customers.ID, Name: "Tier", Type: cellgraph.FieldFormula,
			Options: cellgraph.FieldOptions{Expression: `{total} > 100 ? "gold" : "standard"`}},
	}
	for _, f := range fields {
		if err := store.CreateField(ctx, f); err != nil {
			log.Fatalf("create field %s: %v", f.ID, err)
		}
	}
	fmt.Printf("created %d fields\n", len(fields))

	refs, err := store.ListReferences(ctx)
	if err != nil {
		log.Fatalf("list references: %v", err)
	}
	fmt.Println("\nreferences:")
	printJSON(refs)

	// ── Rows ──────────────────────────────────────────────────────────
	if err := store.InsertRecord(ctx, customers.ID, "c1"); err != nil {
		log.Fatalf("insert customer: %v", err)
	}
	if err := store.SetCell(ctx, "c1", "name", "Acme"); err != nil {
		log.Fatalf("set name: %v", err)
	}
	for id, amount := range map[string]float64{"i1": 40, "i2": 80} {
		if err := store.InsertRecord(ctx, invoices.ID, id); err != nil {
			log.Fatalf("insert invoice: %v", err)
		}
		if err := store.SetCell(ctx, id, "customer", cellgraph.LinkValue{ID: "c1", Title: "Acme"}); err != nil {
			log.Fatalf("set customer: %v", err)
		}
		if err := store.SetCell(ctx, id, "amount", amount); err != nil {
			log.Fatalf("set amount: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine := cellgraph.NewEngine(store, store, store, cellgraph.WithLogger(logger))

	// ── Propagate the invoice amounts ─────────────────────────────────
	changes, err := engine.ComputeChangeset(ctx, []cellgraph.RecordRef{
		{ID: "i1", TableID: invoices.ID},
		{ID: "i2", TableID: invoices.ID},
	}, "amount")
	if err != nil {
		log.Fatalf("compute: %v", err)
	}
	fmt.Println("\nchangeset after writing amounts:")
	printJSON(changes)
	if err := store.ApplyChanges(ctx, changes); err != nil {
		log.Fatalf("apply: %v", err)
	}

	// ── Rename the customer: link titles follow ───────────────────────
	if err := store.SetCell(ctx, "c1", "name", "Acme Corp"); err != nil {
		log.Fatalf("rename: %v", err)
	}
	changes, err = engine.ComputeChangeset(ctx, []cellgraph.RecordRef{{ID: "c1", TableID: customers.ID}}, "name")
	if err != nil {
		log.Fatalf("compute: %v", err)
	}
	fmt.Println("\nchangeset after renaming the customer:")
	printJSON(changes)
	if err := store.ApplyChanges(ctx, changes); err != nil {
		log.Fatalf("apply: %v", err)
	}

	// ── Read back ─────────────────────────────────────────────────────
	recs, err := store.Records(ctx, customers.DBTableName, []string{"c1"})
	if err != nil {
		log.Fatalf("records: %v", err)
	}
	fmt.Println("\ncustomer:")
	printJSON(recs)

	// A reference back into the rollup would close a cycle.
	err = store.AddReference(ctx, cellgraph.Reference{FromFieldID: "tier", ToFieldID: "amount"})
	fmt.Printf("\nadd tier -> amount: %v\n", err)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
