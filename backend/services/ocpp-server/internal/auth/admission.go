package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

// ChargePoints is the part of the store admission needs.
type ChargePoints interface {
	IsKnownChargePoint(ctx context.Context, id string) (bool, error)
	GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error)
}

// Admission decides whether a charge point may open a connection. With
// requirePassword set the HTTP Basic password must match the stored bcrypt hash.
type Admission struct {
	store           ChargePoints
	requirePassword bool
}

var _ ws.Admitter = (*Admission)(nil)

// NewAdmission builds admission check.
func NewAdmission(store ChargePoints, requirePassword bool) *Admission {
	return &Admission{store: store, requirePassword: requirePassword}
}

// Admit returns an error wrapping ws.ErrRejected when the charge point is refused.
func (a *Admission) Admit(ctx context.Context, chargePointID, password string) error {
	known, err := a.store.IsKnownChargePoint(ctx, chargePointID)
	if err != nil {
		return fmt.Errorf("auth: lookup %s: %w", chargePointID, err)
	}
	if !known {
		return fmt.Errorf("%w: unknown charge point", ws.ErrRejected)
	}
	if !a.requirePassword {
		return nil
	}

	if password == "" {
		return fmt.Errorf("%w: missing password", ws.ErrRejected)
	}
	cp, err := a.store.GetChargePoint(ctx, chargePointID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: unknown charge point", ws.ErrRejected)
	}
	if err != nil {
		return fmt.Errorf("auth: load %s: %w", chargePointID, err)
	}
	if cp.AuthKeyHash == "" {
		return fmt.Errorf("%w: no credentials provisioned", ws.ErrRejected)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cp.AuthKeyHash), []byte(password)); err != nil {
		return fmt.Errorf("%w: password mismatch", ws.ErrRejected)
	}
	return nil
}
