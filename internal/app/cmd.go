package app

import (
	"fmt"
	"slices"
)

// Command はサブコマンド（起動モード）を表す。
type Command string

const (
	// CommandServe はAPIサーバー。引数なしの既定。
	CommandServe Command = "serve"
	// CommandWorker はPostgresストアの期限切れセッションを定期削除する。
	CommandWorker Command = "worker"
	// CommandMigrate は未適用のマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを叩く。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを決める。
// 2番目以降の引数は無視する。未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}

	cmd := Command(args[0])
	if !slices.Contains(commands, cmd) {
		return "", fmt.Errorf("unknown command %q (available: serve, worker, migrate, healthcheck)", args[0])
	}
	return cmd, nil
}
