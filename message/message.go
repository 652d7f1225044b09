// Package message はシーンのイベントバスを流れるメッセージを定義します。
package message

import "time"

type Kind string

const (
	KindSay       Kind = "say"
	KindReasoning Kind = "reasoning"
	KindSystem    Kind = "system"
	KindError     Kind = "error"
	KindLog       Kind = "log"
	KindEnd       Kind = "end"
)

type Message struct {
	// From は発言者の表示名です。システムメッセージでは空です。
	From   string
	FromID string
	Text   string
	At     time.Time
	Kind   Kind
	Turn   int
	Meta   map[string]string
}
