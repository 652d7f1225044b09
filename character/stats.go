package character

import (
	"fmt"
	"math"
	"strings"

	"github.com/sat8bit/tavern/apperr"
)

// AbilityKeys は能力値の 6 キーを描画順に並べたものです。
var AbilityKeys = []string{
	"strength",
	"dexterity",
	"constitution",
	"intelligence",
	"wisdom",
	"charisma",
}

// プリセット名。
const (
	PresetDefault = "default"
	PresetAverage = "average"
)

// AverageScore は "average" プリセットで各能力値に設定される値です。
const AverageScore = 12

// Stats は能力値です。常に AbilityKeys の 6 キーをすべて持ちます。
type Stats map[string]int

func presetStats(score int) Stats {
	s := make(Stats, len(AbilityKeys))
	for _, k := range AbilityKeys {
		s[k] = score
	}
	return s
}

// ParseStats は入力を Stats に変換します。
// nil と "default" は全て 0、"average" は全て AverageScore。
// マップを渡す場合は 6 キーちょうどを持っている必要があり、そうでなければ ConfigurationError を返します。
func ParseStats(v any) (Stats, error) {
	switch in := v.(type) {
	case nil:
		return presetStats(0), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(in)) {
		case PresetDefault, "":
			return presetStats(0), nil
		case PresetAverage:
			return presetStats(AverageScore), nil
		}
		return nil, apperr.Configuration("stats", fmt.Sprintf("unknown preset %q", in))
	case Stats:
		return checkKeys(in)
	case map[string]int:
		return checkKeys(Stats(in))
	case map[string]any:
		out := make(Stats, len(in))
		for k, raw := range in {
			n, ok := toInt(raw)
			if !ok {
				return nil, apperr.Configuration("stats", fmt.Sprintf("%s must be an integer, got %v", k, raw))
			}
			out[k] = n
		}
		return checkKeys(out)
	}
	return nil, apperr.Configuration("stats", fmt.Sprintf("unsupported value of type %T", v))
}

func checkKeys(s Stats) (Stats, error) {
	var missing []string
	for _, k := range AbilityKeys {
		if _, ok := s[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.Configuration("stats", "missing "+strings.Join(missing, ", "))
	}
	if len(s) != len(AbilityKeys) {
		for k := range s {
			if !isAbility(k) {
				return nil, apperr.Configuration("stats", fmt.Sprintf("unknown ability %q", k))
			}
		}
	}
	out := make(Stats, len(AbilityKeys))
	for _, k := range AbilityKeys {
		out[k] = s[k]
	}
	return out, nil
}

func isAbility(k string) bool {
	for _, a := range AbilityKeys {
		if a == k {
			return true
		}
	}
	return false
}

// toInt は JSON / YAML 由来の数値を int にします。小数部を持つ値は受け付けません。
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// String は "strength=10, dexterity=12, ..." の形で描画します。
func (s Stats) String() string {
	parts := make([]string, 0, len(AbilityKeys))
	for _, k := range AbilityKeys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s[k]))
	}
	return strings.Join(parts, ", ")
}
