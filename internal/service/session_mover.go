package service

import (
	"context"
	"fmt"
	"time"

	"tablepos/internal/apierror"
	"tablepos/internal/dto"
	"tablepos/internal/model"
	"tablepos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// SessionMover relocates an active party to another table. The billing
// follows the party: the successor session carries the same billing id.
type SessionMover interface {
	MoveSession(ctx context.Context, sessionID uuid.UUID, req dto.MoveSessionRequest) (*dto.MoveSessionResponse, error)
}

type sessionMover struct {
	tx       repository.Transactor
	sessions repository.SessionRepository
	billings repository.BillingRepository
}

func NewSessionMover(tx repository.Transactor, sessions repository.SessionRepository, billings repository.BillingRepository) SessionMover {
	return &sessionMover{tx: tx, sessions: sessions, billings: billings}
}

// ── MoveSession ───────────────────────────────────────────────────────────────
// One transaction:
//   1. lock and check the current session (active, at fromTable)
//   2. mark it moved to toTable
//   3. append the move history record
//   4. create the active successor at toTable, same billing, same server
//   5. link the successor to the billing
// A concurrent move onto the same destination loses on the one-active-
// session-per-table index and gets Conflict.

func (m *sessionMover) MoveSession(ctx context.Context, sessionID uuid.UUID, req dto.MoveSessionRequest) (*dto.MoveSessionResponse, error) {
	if req.ToTableID == "" || req.FromTableID == "" {
		return nil, apierror.Validation("fromTableId and toTableId are required", nil)
	}
	if req.ToTableID == req.FromTableID {
		return nil, apierror.Validation("destination table must differ from the current table",
			map[string]string{"toTableId": "same_as_from"})
	}

	newID := uuid.New()
	var billingID uuid.UUID
	err := m.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		cur, err := m.sessions.LockByID(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if cur == nil {
			return apierror.NotFound("session not found")
		}
		if cur.Status != model.SessionActive {
			return apierror.InvalidState("session is " + cur.Status)
		}
		if cur.TableLabel != req.FromTableID {
			return apierror.InvalidState(fmt.Sprintf("session is at table %s, not %s", cur.TableLabel, req.FromTableID))
		}
		billingID = cur.BillingID

		now := time.Now().UTC()
		if err := m.sessions.MarkMoved(ctx, tx, cur.ID, req.ToTableID, now); err != nil {
			return err
		}

		if err := m.sessions.CreateMove(ctx, tx, &model.SessionMove{
			SessionID:    cur.ID,
			NewSessionID: newID,
			BillingID:    cur.BillingID,
			FromLabel:    cur.TableLabel,
			ToLabel:      req.ToTableID,
			ServerID:     req.ServerID,
			MovedAt:      now,
		}); err != nil {
			return err
		}

		next := &model.TableSession{
			ID:              newID,
			TableLabel:      req.ToTableID,
			ServerID:        cur.ServerID,
			ServerName:      cur.ServerName,
			StartTime:       now,
			BillingID:       cur.BillingID,
			OriginalTableID: cur.TableLabel,
		}
		if err := m.sessions.CreateSession(ctx, tx, next); err != nil {
			return err
		}

		return m.billings.LinkSession(ctx, tx, cur.BillingID, newID)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("new_session_id", newID.String()).
		Str("billing_id", billingID.String()).
		Str("from", req.FromTableID).
		Str("to", req.ToTableID).
		Str("by", req.ServerID).
		Msg("session moved")

	return &dto.MoveSessionResponse{Success: true, NewSessionID: newID.String()}, nil
}
