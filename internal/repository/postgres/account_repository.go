package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthcare-auth/internal/models"
	"healthcare-auth/internal/repository"
)

const accountColumns = `id, full_name, email, phone, password_hash, roles, mfa_enabled,
	login_otp, login_otp_issued_at, reset_otp, reset_otp_issued_at, created_at, updated_at`

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, a *models.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts (id, full_name, email, phone, password_hash, roles, mfa_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.FullName, a.Email, a.Phone, a.PasswordHash, a.RoleNames(), a.MFAEnabled, a.CreatedAt, a.UpdatedAt,
	)
	return mapError(err)
}

func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *AccountRepository) SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, slot *models.OTPSlot) error {
	codeCol, issuedCol := otpColumns(purpose)

	var code *string
	var issued *time.Time
	if slot != nil {
		code, issued = &slot.Code, &slot.IssuedAt
	}

	tag, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE accounts SET %s = $2, %s = $3, updated_at = NOW() WHERE email = $1`, codeCol, issuedCol),
		email, code, issued,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ConsumeOTP locks the account row, so two confirmations of the same code
// cannot both succeed.
func (r *AccountRepository) ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, check repository.OTPCheck) (bool, error) {
	codeCol, issuedCol := otpColumns(purpose)
	consumed := false

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var code *string
		var issued *time.Time
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT %s, %s FROM accounts WHERE email = $1 FOR UPDATE`, codeCol, issuedCol),
			email,
		).Scan(&code, &issued)
		if err != nil {
			return mapError(err)
		}

		var slot *models.OTPSlot
		if code != nil {
			slot = &models.OTPSlot{Code: *code}
			if issued != nil {
				slot.IssuedAt = *issued
			}
		}
		if !check(slot) {
			return nil
		}

		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE accounts SET %s = NULL, %s = NULL, updated_at = NOW() WHERE email = $1`, codeCol, issuedCol),
			email,
		); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET mfa_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// otpColumns maps a purpose to its fixed column pair
func otpColumns(purpose models.OTPPurpose) (string, string) {
	if purpose == models.OTPPurposePasswordReset {
		return "reset_otp", "reset_otp_issued_at"
	}
	return "login_otp", "login_otp_issued_at"
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a                        models.Account
		roles                    []string
		loginCode, resetCode     *string
		loginIssued, resetIssued *time.Time
	)
	err := row.Scan(
		&a.ID, &a.FullName, &a.Email, &a.Phone, &a.PasswordHash, &roles, &a.MFAEnabled,
		&loginCode, &loginIssued, &resetCode, &resetIssued, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	for _, r := range roles {
		a.Roles = append(a.Roles, models.Role(r))
	}
	a.LoginOTP = toSlot(loginCode, loginIssued)
	a.ResetOTP = toSlot(resetCode, resetIssued)
	return &a, nil
}

func toSlot(code *string, issued *time.Time) *models.OTPSlot {
	if code == nil {
		return nil
	}
	s := &models.OTPSlot{Code: *code}
	if issued != nil {
		s.IssuedAt = *issued
	}
	return s
}
