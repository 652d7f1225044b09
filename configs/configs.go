// Package configs は実行ファイルに埋め込む既定の設定とデモ用データです。
package configs

import _ "embed"

// Tavern は既定の設定ファイル（tavern.yaml）です。
//
//go:embed tavern.yaml
var Tavern []byte

// Seed はデモ用のキャラクターとボット（seed.yaml）です。
//
//go:embed seed.yaml
var Seed []byte
