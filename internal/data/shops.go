package data

import (
	"context"
	"database/sql"

	"github.com/visionguard/visionguard/internal/tokens"
)

type Shop struct {
	ID          string
	Name        string
	OwnerID     string
	AlertTarget *string // external alert target (telegram chat id)
}

type ShopModel struct {
	DB DBTX
}

func (m ShopModel) Get(ctx context.Context, shopID string) (*Shop, error) {
	query := `
		SELECT id, name, owner_id, external_alert_target
		FROM shops
		WHERE id = $1`

	var s Shop
	var target sql.NullString

	err := m.DB.QueryRowContext(ctx, query, shopID).Scan(&s.ID, &s.Name, &s.OwnerID, &target)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if target.Valid {
		s.AlertTarget = &target.String
	}
	return &s, nil
}

// VerifyAccess enforces the shop access rule:
// OWNER iff shop.owner_id == user, MANAGER iff (shop, user) is in shop_managers.
func (m ShopModel) VerifyAccess(ctx context.Context, shopID, userID, role string) error {
	switch role {
	case tokens.RoleOwner:
		query := `SELECT owner_id FROM shops WHERE id = $1`
		var ownerID string
		err := m.DB.QueryRowContext(ctx, query, shopID).Scan(&ownerID)
		if err == sql.ErrNoRows {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		if ownerID != userID {
			return ErrAccessDenied
		}
		return nil

	case tokens.RoleManager:
		query := `
			SELECT EXISTS (
				SELECT 1 FROM shop_managers WHERE shop_id = $1 AND user_id = $2
			)`
		var ok bool
		if err := m.DB.QueryRowContext(ctx, query, shopID, userID).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return ErrAccessDenied
		}
		return nil

	default:
		return ErrAccessDenied
	}
}

// AlertTarget returns the configured external alert target for a shop,
// or "" when none is set.
func (m ShopModel) AlertTarget(ctx context.Context, shopID string) (string, error) {
	query := `SELECT external_alert_target FROM shops WHERE id = $1`

	var target sql.NullString
	err := m.DB.QueryRowContext(ctx, query, shopID).Scan(&target)
	if err == sql.ErrNoRows {
		return "", ErrRecordNotFound
	}
	if err != nil {
		return "", err
	}
	if !target.Valid {
		return "", nil
	}
	return target.String, nil
}
