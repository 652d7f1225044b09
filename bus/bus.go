// Package bus はシーンのイベントを購読者に配る pub/sub です。
package bus

import (
	"github.com/sat8bit/tavern/message"
)

// Bus はメッセージの送受信責務を持つ
type Bus interface {
	Broadcast(m *message.Message) error
	Subscribe() <-chan *message.Message
	Close()
}
