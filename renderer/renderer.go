// Package renderer はシーンのバスを購読して会話を表示・記録します。
package renderer

import (
	"sync"

	"github.com/sat8bit/tavern/bus"
)

// Renderer は、会話のレンダリングを行うコンポーネントが満たすべきインターフェースです。
type Renderer interface {
	// Render はバスの購読を始めます。購読ゴルーチンは wg に登録され、
	// バスが閉じられると終了します。
	Render(b bus.Bus, wg *sync.WaitGroup) error

	// Finalize は、すべての会話が終了した後の最終処理を行います。
	Finalize() error
}
