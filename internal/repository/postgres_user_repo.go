package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/menucatalog/internal/model"
)

// PostgresUserRepo はusersテーブルを扱うリポジトリ。ユーザーはコアからは削除しない。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, picture, created_at, updated_at`

// findOne はユーザーを1件読み取る。該当なしはnilを返す。
func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&user.ID, &user.Email, &user.Name, &user.Picture, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByNameAndEmail はidentity導入前に登録されたユーザーを名前とメールで探す。
// 同じ組が複数あれば最も古いユーザーを返す。
func (r *PostgresUserRepo) FindByNameAndEmail(ctx context.Context, name, email string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE name = $1 AND email = $2
		 ORDER BY created_at
		 LIMIT 1`,
		name, email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by name and email: %w", err)
	}
	return user, nil
}

// CreateWithIdentity は初回サインインのユーザーとidentityを1トランザクションで作成する。
// 同じsubjectの同時サインインに負けた場合はErrConstraintViolationを返し、何も残さない。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, user.Picture, user.CreatedAt, user.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if err := insertIdentity(ctx, tx, identity); err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateProfile はプロバイダーから取得した表示名・メール・アバターで上書きする。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, picture = $4, updated_at = $5 WHERE id = $1`,
		user.ID, user.Name, user.Email, user.Picture, user.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
