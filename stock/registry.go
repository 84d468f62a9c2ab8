/*
registry.go - Outlet directory and item registry

PURPOSE:
  Items define what can move. The registry owns names, categories, units
  and thresholds, never quantities. Edits to an item never rewrite its
  history, and items are retired rather than deleted once anything points
  at them.

UNIT CHANGES:
  Changing an item from liters to kg would silently reinterpret every
  open-period movement. The registry rejects the change with a
  ConflictError while the open period carries movements in another unit or
  while the opening checkpoint is non-zero.

SEE ALSO:
  - infer.go: Advisory category/unit suggestions for new items
*/
package stock

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// OUTLET DIRECTORY
// =============================================================================

type Directory struct {
	Store           Store
	DefaultTimezone string
	Now             func() time.Time
}

type CreateOutletInput struct {
	ID       OutletID // optional, generated when empty
	Name     string
	Timezone string // optional, DefaultTimezone when empty
}

func (d *Directory) Create(ctx context.Context, in CreateOutletInput) (*Outlet, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "outlet name is required")
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = d.DefaultTimezone
	}
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, invalid("timezone", "unknown timezone %q", tz)
	}

	outlet := Outlet{
		ID:        in.ID,
		Name:      name,
		Timezone:  tz,
		CreatedAt: nowFrom(d.Now),
	}
	if outlet.ID == "" {
		outlet.ID = OutletID(uuid.NewString())
	}

	err := d.Store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.GetOutlet(ctx, outlet.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ConflictError{Reason: "outlet " + string(outlet.ID) + " already exists"}
		}
		return tx.InsertOutlet(ctx, outlet)
	})
	if err != nil {
		return nil, err
	}
	return &outlet, nil
}

func (d *Directory) Get(ctx context.Context, id OutletID) (*Outlet, error) {
	return requireOutlet(ctx, d.Store, id)
}

func (d *Directory) List(ctx context.Context) ([]Outlet, error) {
	return d.Store.ListOutlets(ctx)
}

// =============================================================================
// ITEM REGISTRY
// =============================================================================

type Registry struct {
	Store Store
	Now   func() time.Time
}

type RegisterInput struct {
	OutletID   OutletID
	Name       string
	Category   string
	Unit       string
	Thresholds Thresholds
}

// Register creates an active item with a zero opening checkpoint.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*Item, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "item name is required")
	}
	unit, err := ParseUnit(in.Unit)
	if err != nil {
		return nil, err
	}
	if err := validateThresholds(in.Thresholds); err != nil {
		return nil, err
	}

	now := nowFrom(r.Now)
	item := Item{
		ID:           ItemID(uuid.NewString()),
		OutletID:     in.OutletID,
		Name:         name,
		Category:     strings.TrimSpace(in.Category),
		Unit:         unit,
		Thresholds:   in.Thresholds,
		Status:       ItemActive,
		OpeningStock: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = r.Store.WithTx(ctx, func(tx Tx) error {
		if _, err := requireOutlet(ctx, tx, in.OutletID); err != nil {
			return err
		}
		return tx.InsertItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ItemUpdate carries the editable fields. Nil means unchanged. Identifiers
// and the opening checkpoint are deliberately absent.
type ItemUpdate struct {
	Name     *string
	Category *string
	Unit     *string
	LowStock *decimal.Decimal
	MaxStock *decimal.Decimal
}

func (r *Registry) Update(ctx context.Context, id ItemID, upd ItemUpdate) (*Item, error) {
	var updated Item
	err := r.Store.WithTx(ctx, func(tx Tx) error {
		item, err := requireItem(ctx, tx, id)
		if err != nil {
			return err
		}

		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return invalid("name", "item name is required")
			}
			item.Name = name
		}
		if upd.Category != nil {
			item.Category = strings.TrimSpace(*upd.Category)
		}
		if upd.LowStock != nil {
			item.Thresholds.LowStock = *upd.LowStock
		}
		if upd.MaxStock != nil {
			item.Thresholds.MaxStock = *upd.MaxStock
		}
		if err := validateThresholds(item.Thresholds); err != nil {
			return err
		}

		if upd.Unit != nil {
			unit, err := ParseUnit(*upd.Unit)
			if err != nil {
				return err
			}
			if unit != item.Unit {
				if err := checkUnitChange(ctx, tx, item, unit); err != nil {
					return err
				}
				item.Unit = unit
			}
		}

		item.UpdatedAt = nowFrom(r.Now)
		if err := tx.UpdateItem(ctx, *item); err != nil {
			return err
		}
		updated = *item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func checkUnitChange(ctx context.Context, tx Tx, item *Item, unit Unit) error {
	if !item.OpeningStock.IsZero() {
		return &ConflictError{Reason: "opening stock of " + item.OpeningStock.String() + " " + string(item.Unit) + " would be reinterpreted as " + string(unit)}
	}
	open, err := openMovements(ctx, tx, *item)
	if err != nil {
		return err
	}
	for _, m := range open {
		if m.Unit != unit {
			return &ConflictError{Reason: "open movements are recorded in " + string(m.Unit)}
		}
	}
	return nil
}

// Retire marks an item inactive. Retiring twice is a no-op.
func (r *Registry) Retire(ctx context.Context, id ItemID) (*Item, error) {
	var retired Item
	err := r.Store.WithTx(ctx, func(tx Tx) error {
		item, err := requireItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if item.Status != ItemRetired {
			item.Status = ItemRetired
			item.UpdatedAt = nowFrom(r.Now)
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return err
			}
		}
		retired = *item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &retired, nil
}

func (r *Registry) Get(ctx context.Context, id ItemID) (*Item, error) {
	return requireItem(ctx, r.Store, id)
}

func (r *Registry) List(ctx context.Context, outletID OutletID, filter ItemFilter) ([]Item, error) {
	if _, err := requireOutlet(ctx, r.Store, outletID); err != nil {
		return nil, err
	}
	return r.Store.ListItems(ctx, outletID, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func validateThresholds(t Thresholds) error {
	if t.LowStock.IsNegative() {
		return invalid("low_stock_threshold", "must not be negative")
	}
	if t.MaxStock.IsNegative() {
		return invalid("max_stock_level", "must not be negative")
	}
	if !t.MaxStock.IsZero() && t.MaxStock.LessThan(t.LowStock) {
		return invalid("max_stock_level", "must be at least the low-stock threshold")
	}
	return nil
}

func requireOutlet(ctx context.Context, r Reader, id OutletID) (*Outlet, error) {
	if id == "" {
		return nil, invalid("outlet_id", "outlet id is required")
	}
	o, err := r.GetOutlet(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, &NotFoundError{Kind: "outlet", ID: string(id)}
	}
	return o, nil
}

func requireItem(ctx context.Context, r Reader, id ItemID) (*Item, error) {
	if id == "" {
		return nil, invalid("item_id", "item id is required")
	}
	item, err := r.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &NotFoundError{Kind: "item", ID: string(id)}
	}
	return item, nil
}

func nowFrom(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
