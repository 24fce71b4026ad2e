package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrProfileNotFound = errors.New("profile not found")

type Profile struct {
	ID                    uuid.UUID
	FullName              string
	Email                 *string
	Phone                 *string
	DateOfBirth           *time.Time
	UserType              string
	IsVerified            bool
	VerificationSubmitted bool
	CreatedAt             time.Time
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error)
	CreateProfile(ctx context.Context, p Profile) error
	SubmitVerification(ctx context.Context, req VerificationRequest) (*VerificationRequest, error)
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgProfileStore struct {
	pool pgxPool
}

func NewPgProfileStore(pool pgxPool) *PgProfileStore {
	return &PgProfileStore{pool: pool}
}

func (s *PgProfileStore) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx, `
		SELECT id, full_name, email, phone, date_of_birth, user_type, is_verified, verification_submitted, created_at
		FROM profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.DateOfBirth, &p.UserType, &p.IsVerified,
		&p.VerificationSubmitted, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// CreateProfile inserts a patient profile; an existing row is left untouched.
func (s *PgProfileStore) CreateProfile(ctx context.Context, p Profile) error {
	if p.UserType == "" {
		p.UserType = "patient"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, full_name, email, phone, date_of_birth, user_type, is_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.FullName, p.Email, p.Phone, p.DateOfBirth, p.UserType, p.IsVerified)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// SubmitVerification stores the intake form and marks the profile as
// submitted in one transaction. A missing profile is created from the form.
func (s *PgProfileStore) SubmitVerification(ctx context.Context, req VerificationRequest) (*VerificationRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin verification: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO profiles (id, full_name, email, phone, date_of_birth, user_type, is_verified, verification_submitted, created_at)
		VALUES ($1, $2, $3, $4, $5, 'patient', FALSE, TRUE, now())
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
			date_of_birth = EXCLUDED.date_of_birth,
			verification_submitted = TRUE
	`, req.UserID, req.FullName, req.Email, req.Phone, req.DateOfBirth)
	if err != nil {
		return nil, fmt.Errorf("mark verification submitted: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO verification_requests (id, user_id, full_name, date_of_birth, gender, email, phone, address,
			preferred_date, preferred_time, time_zone, allergies, health_issue, herbal_history, privacy_agreement,
			status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'pending', now())
		RETURNING status, created_at
	`, req.ID, req.UserID, req.FullName, req.DateOfBirth, req.Gender, req.Email, req.Phone, req.Address,
		req.PreferredDate, req.PreferredTime, req.TimeZone, req.Allergies, req.HealthIssue, req.HerbalHistory,
		req.PrivacyAgreement).Scan(&req.Status, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert verification request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit verification: %w", err)
	}
	return &req, nil
}
