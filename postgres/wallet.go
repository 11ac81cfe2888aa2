package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/auxchat/auxchat-backend/api"
)

// CreatePurchase records a pending purchase.
func (pg *Postgres) CreatePurchase(ctx context.Context, p api.Purchase) (api.Purchase, error) {
	pm := &purchase{
		UserID:          p.UserID,
		AmountPaid:      p.AmountPaid,
		EnergyGranted:   p.Energy,
		DiscountPercent: p.Discount,
		Method:          string(p.Method),
		Status:          string(api.PurchasePending),
		CreatedAt:       p.CreatedAt,
	}
	if _, err := pg.bun.NewInsert().Model(pm).Returning("*").Exec(ctx); err != nil {
		return api.Purchase{}, fmt.Errorf("insert purchase: %w", err)
	}
	return pm.APIPurchase(), nil
}

// ConfirmPurchase marks a purchase paid and credits its energy to the buyer.
// A purchase is credited at most once.
func (pg *Postgres) ConfirmPurchase(ctx context.Context, purchaseID int64) (api.Purchase, int64, error) {
	var (
		pm      purchase
		balance int64
	)
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&pm).
			Where("id = ?", purchaseID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select purchase: %w", notFound(err, api.ErrNotFound))
		}

		if pm.Status == string(api.PurchasePaid) {
			err := tx.NewSelect().
				Model((*user)(nil)).
				Column("energy").
				Where("id = ?", pm.UserID).
				Scan(ctx, &balance)
			if err != nil {
				return fmt.Errorf("select balance: %w", err)
			}
			return nil
		}

		pm.Status = string(api.PurchasePaid)
		_, err = tx.NewUpdate().
			Model(&pm).
			Column("status").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}

		err = tx.NewUpdate().
			Model((*user)(nil)).
			Set("energy = energy + ?", pm.EnergyGranted).
			Where("id = ?", pm.UserID).
			Returning("energy").
			Scan(ctx, &balance)
		if err != nil {
			return fmt.Errorf("credit energy: %w", err)
		}
		return nil
	})
	if err != nil {
		return api.Purchase{}, 0, err
	}
	return pm.APIPurchase(), balance, nil
}
