package repository

import (
	"context"
	"time"

	"tablepos/internal/apierror"
	"tablepos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository is the Session Store. Lookups return (nil, nil) when the
// row does not exist.
type SessionRepository interface {
	// CreateSession inserts s as an active session. Returns Conflict when the
	// table already has an active session.
	CreateSession(ctx context.Context, tx *gorm.DB, s *model.TableSession) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.TableSession, error)
	// LockByID reads the session with SELECT ... FOR UPDATE.
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.TableSession, error)
	GetActiveSessionForTable(ctx context.Context, tableLabel string) (*model.TableSession, error)
	// MarkMoved returns NotFound for an unknown id and InvalidState unless the
	// session is active.
	MarkMoved(ctx context.Context, tx *gorm.DB, id uuid.UUID, destinationTable string, at time.Time) error
	CreateMove(ctx context.Context, tx *gorm.DB, m *model.SessionMove) error
	// ListByBilling returns the billing's sessions via billing_sessions,
	// ordered by start_time.
	ListByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) ([]model.TableSession, error)
	CloseActiveByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID, at time.Time) (int64, error)
}

type sessionRepo struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &sessionRepo{db: db} }

func (r *sessionRepo) CreateSession(ctx context.Context, tx *gorm.DB, s *model.TableSession) error {
	s.Status = model.SessionActive
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	if s.OriginalTableID == "" {
		s.OriginalTableID = s.TableLabel
	}
	err := conn(ctx, r.db, tx).Create(s).Error
	return translateError(err, "table "+s.TableLabel+" already has an active session")
}

func (r *sessionRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.TableSession, error) {
	var s model.TableSession
	err := conn(ctx, r.db, tx).First(&s, "id = ?", id).Error
	if absent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "")
	}
	return &s, nil
}

func (r *sessionRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.TableSession, error) {
	var s model.TableSession
	err := conn(ctx, r.db, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&s, "id = ?", id).Error
	if absent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "")
	}
	return &s, nil
}

func (r *sessionRepo) GetActiveSessionForTable(ctx context.Context, tableLabel string) (*model.TableSession, error) {
	var s model.TableSession
	err := r.db.WithContext(ctx).
		Where("table_label = ? AND status = ?", tableLabel, model.SessionActive).
		First(&s).Error
	if absent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "")
	}
	return &s, nil
}

func (r *sessionRepo) MarkMoved(ctx context.Context, tx *gorm.DB, id uuid.UUID, destinationTable string, at time.Time) error {
	// Conditional update: only an active session may move, even under races.
	res := conn(ctx, r.db, tx).Model(&model.TableSession{}).
		Where("id = ? AND status = ?", id, model.SessionActive).
		Updates(map[string]interface{}{
			"status":               model.SessionMoved,
			"destination_table_id": destinationTable,
			"moved_at":             at,
			"end_time":             at,
		})
	if res.Error != nil {
		return translateError(res.Error, "")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	s, err := r.FindByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return apierror.NotFound("session not found")
	}
	return apierror.InvalidState("session is " + s.Status)
}

func (r *sessionRepo) CreateMove(ctx context.Context, tx *gorm.DB, m *model.SessionMove) error {
	return translateError(conn(ctx, r.db, tx).Create(m).Error, "")
}

func (r *sessionRepo) ListByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID) ([]model.TableSession, error) {
	var sessions []model.TableSession
	err := conn(ctx, r.db, tx).
		Joins("JOIN billing_sessions bs ON bs.session_id = table_sessions.id").
		Where("bs.billing_id = ?", billingID).
		Order("table_sessions.start_time ASC").
		Find(&sessions).Error
	return sessions, translateError(err, "")
}

func (r *sessionRepo) CloseActiveByBilling(ctx context.Context, tx *gorm.DB, billingID uuid.UUID, at time.Time) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.TableSession{}).
		Where("billing_id = ? AND status = ?", billingID, model.SessionActive).
		Updates(map[string]interface{}{
			"status":   model.SessionClosed,
			"end_time": at,
		})
	return res.RowsAffected, translateError(res.Error, "")
}
