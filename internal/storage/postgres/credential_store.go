package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contentforge/internal/domain"
)

// CredentialStore persists provider credentials. Key material is stored
// as ciphertext and salt columns; plaintext never reaches this layer.
type CredentialStore struct {
	db *DB
}

const credentialColumns = `provider, encrypted_key, salt, default_model, fallback_model,
	model_overrides, monthly_budget, current_usage, active, last_tested_at, last_test_ok,
	created_at, updated_at`

func (s *CredentialStore) ListCredentials(ctx context.Context) ([]*domain.ProviderCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM provider_credentials
		ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*domain.ProviderCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (s *CredentialStore) GetCredential(ctx context.Context, provider domain.Provider) (*domain.ProviderCredential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+`
		FROM provider_credentials
		WHERE provider = $1`, provider)

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
		}
		return nil, err
	}
	return cred, nil
}

func (s *CredentialStore) UpsertCredential(ctx context.Context, cred *domain.ProviderCredential) error {
	overrides, err := json.Marshal(cred.ModelOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal model overrides: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_credentials (
			provider, encrypted_key, salt, default_model, fallback_model,
			model_overrides, monthly_budget, active, last_tested_at, last_test_ok
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider) DO UPDATE SET
			encrypted_key = EXCLUDED.encrypted_key,
			salt = EXCLUDED.salt,
			default_model = EXCLUDED.default_model,
			fallback_model = EXCLUDED.fallback_model,
			model_overrides = EXCLUDED.model_overrides,
			monthly_budget = EXCLUDED.monthly_budget,
			active = EXCLUDED.active,
			last_tested_at = EXCLUDED.last_tested_at,
			last_test_ok = EXCLUDED.last_test_ok,
			updated_at = NOW()`,
		cred.Provider, cred.EncryptedKey, cred.Salt, cred.DefaultModel, cred.FallbackModel,
		overrides, cred.MonthlyBudget, cred.Active, cred.LastTestedAt, cred.LastTestOK)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) DeleteCredential(ctx context.Context, provider domain.Provider) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE provider = $1`, provider)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
	}
	return nil
}

func (s *CredentialStore) RecordTest(ctx context.Context, provider domain.Provider, ok bool, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE provider_credentials
		SET last_tested_at = $2, last_test_ok = $3, updated_at = NOW()
		WHERE provider = $1`, provider, at, ok)
	if err != nil {
		return fmt.Errorf("failed to record test: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
	}
	return nil
}

func (s *CredentialStore) AddUsage(ctx context.Context, provider domain.Provider, cost float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE provider_credentials
		SET current_usage = current_usage + $2, updated_at = NOW()
		WHERE provider = $1`, provider, cost)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*domain.ProviderCredential, error) {
	var cred domain.ProviderCredential
	var overrides []byte
	var fallback sql.NullString
	var testedAt sql.NullTime
	var testOK sql.NullBool

	err := row.Scan(
		&cred.Provider, &cred.EncryptedKey, &cred.Salt, &cred.DefaultModel, &fallback,
		&overrides, &cred.MonthlyBudget, &cred.CurrentUsage, &cred.Active, &testedAt, &testOK,
		&cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	cred.FallbackModel = fallback.String
	if testedAt.Valid {
		cred.LastTestedAt = &testedAt.Time
	}
	if testOK.Valid {
		cred.LastTestOK = &testOK.Bool
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &cred.ModelOverrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal model overrides: %w", err)
		}
	}
	return &cred, nil
}
