// Package session はキャラクターの組から会話履歴のキーを導出します。
package session

import (
	"fmt"
	"strings"
)

// Mode はキーの導出方法です。
type Mode string

const (
	// ModeOrdered は prompter と responder の ID をその順で連結します。
	// 役割を入れ替えると別のセッションになります。
	ModeOrdered Mode = "ordered"

	// ModeNormalized は順序に依存しないキーを作ります。
	ModeNormalized Mode = "normalized"
)

// ParseMode は設定値を Mode に変換します。空文字は ModeOrdered。
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeOrdered:
		return ModeOrdered, nil
	case ModeNormalized:
		return ModeNormalized, nil
	}
	return "", fmt.Errorf("unknown session key mode %q", s)
}

// Derive は prompterID と responderID をこの順で連結したキーを返します。
func Derive(prompterID, responderID string) string {
	return prompterID + responderID
}

// Normalize は 2 つの ID を辞書順に並べてから連結します。
func Normalize(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + b
}

// Keyer は設定された Mode に従ってセッションキーを作ります。
type Keyer struct {
	Mode Mode
}

func (k Keyer) Key(prompterID, responderID string) string {
	if k.Mode == ModeNormalized {
		return Normalize(prompterID, responderID)
	}
	return Derive(prompterID, responderID)
}
