package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/weeargh/kiwi/internal/repository"
)

// APIKeyRepository implements repository.APIKeyRepository for SQLite
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// HashToken returns the stored form of a raw bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create stores a hashed key
func (r *APIKeyRepository) Create(ctx context.Context, key *repository.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, tenant_id, description, created_at) VALUES (?, ?, ?, ?)`,
		key.KeyHash, key.TenantID, key.Description, formatTime(key.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", mapConstraint(err))
	}
	return nil
}

// ResolveTenant looks up the tenant owning token
func (r *APIKeyRepository) ResolveTenant(ctx context.Context, token string) (string, error) {
	hash := HashToken(token)
	var tenantID string
	err := r.db.QueryRowContext(ctx, `SELECT tenant_id FROM api_keys WHERE key_hash = ?`, hash).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve api key: %w", err)
	}
	if tenantID == "" {
		return "", repository.ErrNotFound
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE key_hash = ?`, formatTime(nowUTC()), hash); err != nil {
		return "", fmt.Errorf("failed to stamp api key: %w", err)
	}
	return tenantID, nil
}

// Get returns key metadata by hash
func (r *APIKeyRepository) Get(ctx context.Context, keyHash string) (*repository.APIKey, error) {
	var (
		key         repository.APIKey
		description sql.NullString
		createdAt   string
		lastUsed    sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT key_hash, tenant_id, description, created_at, last_used FROM api_keys WHERE key_hash = ?`,
		keyHash).Scan(&key.KeyHash, &key.TenantID, &description, &createdAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	key.Description = description.String
	if key.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if key.LastUsed, err = parseNullTime(lastUsed); err != nil {
		return nil, err
	}
	return &key, nil
}
