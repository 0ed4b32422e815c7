package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrConstraintViolation は一意制約違反を表す。
// 評価のUPSERTで同時挿入が競合した場合に返り、呼び出し側で更新として再試行する。
var ErrConstraintViolation = errors.New("unique constraint violation")

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// isUniqueViolation はerrがPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}
