package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/menucatalog/internal/model"
)

// PostgresIdentityRepo はidentitiesテーブルでsubjectとユーザーを結ぶ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindUserID は(provider, subject)に紐付いたユーザーIDを返す。
func (r *PostgresIdentityRepo) FindUserID(ctx context.Context, provider, subject string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM identities WHERE provider = $1 AND provider_user_id = $2`,
		provider, subject,
	).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	return userID, nil
}

// Link は(provider, subject)をユーザーに紐付ける。
// UNIQUE(provider, provider_user_id)違反はErrConstraintViolationとして返す。
func (r *PostgresIdentityRepo) Link(ctx context.Context, identity *model.Identity) error {
	if err := insertIdentity(ctx, r.db, identity); err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertIdentity はidentityを1行挿入する。ユーザー作成と同じトランザクションでも使う。
func insertIdentity(ctx context.Context, db execer, identity *model.Identity) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConstraintViolation
	}
	return err
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
