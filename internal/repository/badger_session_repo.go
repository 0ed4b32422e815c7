package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/hitoshi/menucatalog/internal/model"
)

// badgerSessionKeyPrefix はBadgerに保存するセッションキーのプレフィックス。
const badgerSessionKeyPrefix = "session:"

// badgerSessionRecord はBadgerに保存するセッションのJSON表現。
type badgerSessionRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	CSRFToken       string    `json:"csrf_token,omitempty"`
	AccessToken     string    `json:"access_token,omitempty"`
	ProviderSubject string    `json:"provider_subject,omitempty"`
	Username        string    `json:"username,omitempty"`
	Email           string    `json:"email,omitempty"`
	Picture         string    `json:"picture,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BadgerSessionRepo は組み込みKVストアBadgerにセッションを永続化するリポジトリ。
// 再起動後もセッションを保持するが、単一プロセスからのみ開ける。
type BadgerSessionRepo struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerSessionRepo はBadgerSessionRepoを生成する。
func NewBadgerSessionRepo(db *badger.DB) *BadgerSessionRepo {
	return &BadgerSessionRepo{db: db, now: time.Now}
}

// OpenBadger は指定ディレクトリでBadgerを開く。pathが空の場合はインメモリで開く。
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *BadgerSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	var rec badgerSessionRecord
	found := false

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerSessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if !found {
		return nil, nil
	}

	session := rec.toModel()
	if session.IsExpired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// Save はセッションを保存する。有効期限をTTLとして設定する。
func (r *BadgerSessionRepo) Save(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.DeleteByID(ctx, session.ID)
	}

	data, err := json.Marshal(newBadgerSessionRecord(session))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(badgerSessionKeyPrefix+session.ID), data).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *BadgerSessionRepo) DeleteByID(_ context.Context, id string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(badgerSessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
// TTLで読み取り対象外になったキーは数えず、ExpiresAtを過ぎた残存キーのみを削除する。
func (r *BadgerSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var expired [][]byte

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerSessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec badgerSessionRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if !rec.ExpiresAt.After(now) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}

	if len(expired) == 0 {
		return 0, nil
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return int64(len(expired)), nil
}

func newBadgerSessionRecord(s *model.Session) badgerSessionRecord {
	return badgerSessionRecord{
		ID:              s.ID,
		UserID:          s.UserID,
		CSRFToken:       s.CSRFToken,
		AccessToken:     s.AccessToken,
		ProviderSubject: s.ProviderSubject,
		Username:        s.Username,
		Email:           s.Email,
		Picture:         s.Picture,
		ExpiresAt:       s.ExpiresAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (rec badgerSessionRecord) toModel() *model.Session {
	return &model.Session{
		ID:              rec.ID,
		UserID:          rec.UserID,
		CSRFToken:       rec.CSRFToken,
		AccessToken:     rec.AccessToken,
		ProviderSubject: rec.ProviderSubject,
		Username:        rec.Username,
		Email:           rec.Email,
		Picture:         rec.Picture,
		ExpiresAt:       rec.ExpiresAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

// compile-time interface check
var _ SessionRepository = (*BadgerSessionRepo)(nil)
