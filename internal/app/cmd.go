package app

// Command はtaskboardバイナリのサブコマンド。
type Command string

const (
	// CommandServe はAPIサーバー、変更通知のリスナー、Bridgeをまとめて起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションと、保持期間を過ぎた解決済み招待を日次で削除する。
	// 保留中の招待は削除しない。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みのスキーマを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認して終了する。
	// シェルのないdistrolessイメージのDocker HEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。残りの引数は無視する。
// 未指定や未知の値はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) > 0 {
		if cmd, ok := commands[args[0]]; ok {
			return cmd
		}
	}
	return CommandServe
}
