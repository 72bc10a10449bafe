package main

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/meikuraledutech/cellgraph"
)

type handler struct {
	b        backend
	formulas cellgraph.FormulaEvaluator
	log      *slog.Logger
	apply    bool
}

// engine builds an Engine over b. Transaction-bound backends share one
// connection, so their row queries run one at a time.
func (h *handler) engine(b backend, inTx bool) *cellgraph.Engine {
	opts := []cellgraph.Option{
		cellgraph.WithLogger(h.log),
		cellgraph.WithFormulas(h.formulas),
	}
	if inTx {
		opts = append(opts, cellgraph.WithFanOut(1))
	}
	return cellgraph.NewEngine(b, b, b, opts...)
}

type fieldRequest struct {
	cellgraph.Field
	// SymmetricLookupFieldID, when set on a link without a symmetric field,
	// creates the paired link in the foreign table titled by this field.
	SymmetricLookupFieldID string `json:"symmetricLookupFieldId"`
	SymmetricName          string `json:"symmetricName"`
}

type recordRequest struct {
	ID string `json:"id"`
}

type cellsRequest struct {
	Fields map[string]any `json:"fields"`
}

type changesetRequest struct {
	FieldID string                `json:"fieldId"`
	Records []cellgraph.RecordRef `json:"records"`
	Apply   *bool                 `json:"apply"`
}

func newApp(b backend, formulas cellgraph.FormulaEvaluator, logger *slog.Logger, cfg config) *fiber.App {
	h := &handler{b: b, formulas: formulas, log: logger, apply: cfg.ApplyChanges}

	app := fiber.New()

	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := h.b.CreateSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := h.b.DropSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	// ── Tables ────────────────────────────────────────────────────────
	app.Post("/tables", func(c fiber.Ctx) error {
		var t cellgraph.Table
		if err := c.Bind().JSON(&t); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if err := h.b.CreateTable(c.Context(), &t); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(t)
	})

	app.Get("/tables/:id", func(c fiber.Ctx) error {
		t, err := h.b.GetTable(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		if t == nil {
			return c.Status(404).JSON(fiber.Map{"error": "table not found"})
		}
		return c.JSON(t)
	})

	// ── Fields ────────────────────────────────────────────────────────
	app.Post("/tables/:id/fields", func(c fiber.Ctx) error {
		var req fieldRequest
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		f := req.Field
		f.TableID = c.Params("id")

		var sym *cellgraph.Field
		err := h.b.Tx(c.Context(), func(tx backend) error {
			if f.Type == cellgraph.FieldLink && f.Options.SymmetricFieldID == "" && req.SymmetricLookupFieldID != "" {
				if f.ID == "" {
					f.ID = "fld" + uuid.NewString()
				}
				if f.Options.DBForeignKeyName == "" {
					f.Options.DBForeignKeyName = cellgraph.ForeignKeyName(f.ID)
				}
				sym = &cellgraph.Field{
					ID:      "fld" + uuid.NewString(),
					TableID: f.Options.ForeignTableID,
					Name:    req.SymmetricName,
					Type:    cellgraph.FieldLink,
					Options: cellgraph.SymmetricLinkOptions(&f, req.SymmetricLookupFieldID),
				}
				f.Options.SymmetricFieldID = sym.ID
			}
			if err := tx.CreateField(c.Context(), &f); err != nil {
				return err
			}
			if sym != nil {
				return tx.CreateField(c.Context(), sym)
			}
			return nil
		})
		if errors.Is(err, cellgraph.ErrCycleDetected) {
			return c.Status(422).JSON(fiber.Map{"error": "cycle detected"})
		}
		if err != nil {
			return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
		}
		if sym != nil {
			return c.Status(201).JSON(fiber.Map{"field": f, "symmetric": sym})
		}
		return c.Status(201).JSON(fiber.Map{"field": f})
	})

	app.Get("/tables/:id/fields", func(c fiber.Ctx) error {
		fields, err := h.b.ListFields(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fields)
	})

	app.Get("/fields/:id", func(c fiber.Ctx) error {
		f, err := h.b.GetField(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		if f == nil {
			return c.Status(404).JSON(fiber.Map{"error": "field not found"})
		}
		return c.JSON(f)
	})

	app.Delete("/fields/:id", func(c fiber.Ctx) error {
		if err := h.b.DeleteField(c.Context(), c.Params("id")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	// Topological order of everything downstream of a field.
	app.Get("/fields/:id/order", func(c fiber.Ctx) error {
		id := c.Params("id")
		closure, err := h.b.Closure(c.Context(), id)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		order, err := cellgraph.TopologicalOrder(id, closure)
		if err != nil {
			return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(order)
	})

	// ── References ────────────────────────────────────────────────────
	app.Get("/references", func(c fiber.Ctx) error {
		refs, err := h.b.ListReferences(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(refs)
	})

	app.Post("/references", func(c fiber.Ctx) error {
		var ref cellgraph.Reference
		if err := c.Bind().JSON(&ref); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		err := h.b.AddReference(c.Context(), ref)
		if errors.Is(err, cellgraph.ErrCycleDetected) {
			return c.Status(422).JSON(fiber.Map{"error": "cycle detected"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(ref)
	})

	app.Delete("/references", func(c fiber.Ctx) error {
		var ref cellgraph.Reference
		if err := c.Bind().JSON(&ref); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if err := h.b.RemoveReference(c.Context(), ref); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	// ── Records ───────────────────────────────────────────────────────
	app.Post("/tables/:id/records", func(c fiber.Ctx) error {
		var req recordRequest
		if len(c.Body()) > 0 {
			if err := c.Bind().JSON(&req); err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
			}
		}
		if req.ID == "" {
			req.ID = "rec" + uuid.NewString()
		}
		if err := h.b.InsertRecord(c.Context(), c.Params("id"), req.ID); err != nil {
			return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(fiber.Map{"id": req.ID})
	})

	app.Get("/tables/:id/records/:recordId", func(c fiber.Ctx) error {
		rec, err := h.record(c.Context(), h.b, c.Params("id"), c.Params("recordId"))
		if err != nil {
			return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(rec)
	})

	// Writes cells, then applies every change they cause in the same
	// transaction.
	app.Put("/tables/:id/records/:recordId", func(c fiber.Ctx) error {
		var req cellsRequest
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		ref := cellgraph.RecordRef{ID: c.Params("recordId"), TableID: c.Params("id")}

		ids := make([]string, 0, len(req.Fields))
		for id := range req.Fields {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		changes := []cellgraph.Change{}
		err := h.b.Tx(c.Context(), func(tx backend) error {
			engine := h.engine(tx, true)
			for _, id := range ids {
				root := ref
				old, err := oldLinks(c.Context(), tx, ref.ID, id)
				if err != nil {
					return err
				}
				root.OldLinks = old
				if err := tx.SetCell(c.Context(), ref.ID, id, req.Fields[id]); err != nil {
					return err
				}
				cs, err := engine.ComputeChangeset(c.Context(), []cellgraph.RecordRef{root}, id)
				if err != nil {
					return err
				}
				if err := tx.ApplyChanges(c.Context(), cs); err != nil {
					return err
				}
				changes = append(changes, cs...)
			}
			return nil
		})
		if err != nil {
			h.log.ErrorContext(c.Context(), "update record", "record", ref.ID, "error", err)
			return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"changes": changes})
	})

	// ── Changeset ─────────────────────────────────────────────────────
	app.Post("/changeset", func(c fiber.Ctx) error {
		var req changesetRequest
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if req.FieldID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "fieldId is required"})
		}
		apply := h.apply
		if req.Apply != nil {
			apply = *req.Apply
		}

		var changes []cellgraph.Change
		var err error
		if apply {
			err = h.b.Tx(c.Context(), func(tx backend) error {
				changes, err = h.engine(tx, true).ComputeChangeset(c.Context(), req.Records, req.FieldID)
				if err != nil {
					return err
				}
				return tx.ApplyChanges(c.Context(), changes)
			})
		} else {
			changes, err = h.engine(h.b, false).ComputeChangeset(c.Context(), req.Records, req.FieldID)
		}
		if err != nil {
			h.log.ErrorContext(c.Context(), "compute changeset", "field", req.FieldID, "error", err)
			return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
		}
		if changes == nil {
			changes = []cellgraph.Change{}
		}
		return c.JSON(fiber.Map{"changes": changes, "applied": apply})
	})

	return app
}

// record reads one row with its cells decoded per field type.
func (h *handler) record(ctx context.Context, b backend, tableID, recordID string) (*cellgraph.Record, error) {
	t, err := b.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, cellgraph.ErrTableNotFound
	}
	fields, err := b.ListFields(ctx, tableID)
	if err != nil {
		return nil, err
	}
	recs, err := b.Records(ctx, t.DBTableName, []string{recordID})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, cellgraph.ErrRecordNotFound
	}

	byID := make(map[string]*cellgraph.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	rec := recs[0]
	for id, v := range rec.Fields {
		rec.Fields[id] = cellgraph.DecodeCell(byID[id], v)
	}
	return rec, nil
}

// oldLinks returns the ids a link cell holds before it is overwritten.
// Other fields, and fields that do not exist, have none.
func oldLinks(ctx context.Context, b backend, recordID, fieldID string) ([]string, error) {
	f, err := b.GetField(ctx, fieldID)
	if err != nil || f == nil || f.Type != cellgraph.FieldLink {
		return nil, err
	}
	t, err := b.GetTable(ctx, f.TableID)
	if err != nil || t == nil {
		return nil, err
	}
	recs, err := b.Records(ctx, t.DBTableName, []string{recordID})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return cellgraph.LinkIDs(cellgraph.DecodeCell(f, recs[0].Fields[f.ID])), nil
}

// statusOf maps engine and store errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, cellgraph.ErrTableNotFound),
		errors.Is(err, cellgraph.ErrFieldNotFound),
		errors.Is(err, cellgraph.ErrRecordNotFound):
		return 404
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return 503
	}
	return 500
}
