package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// storedRecord is the client_sessions row backing GormStore.
type storedRecord struct {
	SessionID    string         `gorm:"primaryKey;size:64"`
	AccessToken  string         `gorm:"not null"`
	RefreshToken string         `gorm:"not null"`
	UserSnapshot datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null;index"`
	UpdatedAt    time.Time
}

func (storedRecord) TableName() string {
	return "client_sessions"
}

// MigrateGormStore creates the client_sessions table.
func MigrateGormStore(db *gorm.DB) error {
	return db.AutoMigrate(&storedRecord{})
}

// GormStore keeps session records in a relational table, which lets every
// client process pointed at the same database share them.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.Named("session.gormstore")}
}

func toRow(rec *Record) (*storedRecord, error) {
	if rec == nil || rec.SessionID == "" {
		return nil, fmt.Errorf("%w: record without session id", ErrStorageFailure)
	}
	var snapshot datatypes.JSON
	if rec.User != nil {
		data, err := json.Marshal(rec.User)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		snapshot = datatypes.JSON(data)
	}
	return &storedRecord{
		SessionID:    rec.SessionID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		UserSnapshot: snapshot,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func fromRow(row *storedRecord) (*Record, error) {
	rec := &Record{
		SessionID:    row.SessionID,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		CreatedAt:    row.CreatedAt,
	}
	if len(row.UserSnapshot) > 0 && string(row.UserSnapshot) != "null" {
		var u User
		if err := json.Unmarshal(row.UserSnapshot, &u); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
		rec.User = &u
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *GormStore) Put(ctx context.Context, rec *Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now()

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "user_snapshot", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

func (s *GormStore) decode(row *storedRecord) (*Record, bool) {
	rec, err := fromRow(row)
	if err != nil {
		s.logger.Warn("ignoring corrupt session record", zap.String("session_id", row.SessionID), zap.Error(err))
		return nil, false
	}
	return rec, true
}

func (s *GormStore) Get(ctx context.Context, sessionID string) (*Record, bool) {
	var row storedRecord
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("session record read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, false
	}
	return s.decode(&row)
}

// Update locks the row for the duration of the transaction, so concurrent
// updates serialize and a concurrent delete is observed as ErrSessionNotFound.
func (s *GormStore) Update(ctx context.Context, sessionID string, fn func(*Record) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row storedRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "session_id = ?", sessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}

		rec, ok := s.decode(&row)
		if !ok {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		next, err := applyUpdate(rec, fn)
		if err != nil {
			return err
		}
		updated, err := toRow(next)
		if err != nil {
			return err
		}

		err = tx.Model(&storedRecord{}).Where("session_id = ?", sessionID).Updates(map[string]interface{}{
			"access_token":  updated.AccessToken,
			"refresh_token": updated.RefreshToken,
			"user_snapshot": updated.UserSnapshot,
			"updated_at":    time.Now(),
		}).Error
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		return nil
	})
}

func (s *GormStore) Remove(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Delete(&storedRecord{}, "session_id = ?", sessionID).Error; err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// All streams rows through a cursor ordered by creation time.
func (s *GormStore) All(ctx context.Context) iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		db := s.db.WithContext(ctx)
		rows, err := db.Model(&storedRecord{}).Order("created_at, session_id").Rows()
		if err != nil {
			s.logger.Warn("session record listing failed", zap.Error(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row storedRecord
			if err := db.ScanRows(rows, &row); err != nil {
				s.logger.Warn("ignoring unreadable session row", zap.Error(err))
				continue
			}
			rec, ok := s.decode(&row)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}
