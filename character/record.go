// Package character は Entity / NPC / Player の 3 種類のキャラクターを扱います。
//
// 種類ごとの継承関係は持たず、Kind を判別子にした 1 つの Record 型で表現します。
// 永続化されたドキュメントが唯一の正であり、Character はそれを指す薄いハンドルです。
package character

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/store"
)

// Kind はキャラクターの種類です。
type Kind string

const (
	KindEntity Kind = "entity"
	KindNPC    Kind = "npc"
	KindPlayer Kind = "player"
)

// Kinds は全ての種類を列挙順に返します。
var Kinds = []Kind{KindEntity, KindNPC, KindPlayer}

// ドキュメントのフィールド名。
const (
	FieldName        = "name"
	FieldRace        = "race"
	FieldTags        = "tags"
	FieldDescription = "description"
	FieldStats       = "stats"
	FieldLore        = "lore"
	FieldRole        = "role"
	FieldPlayerClass = "player_class"
	FieldLevel       = "level"
)

// ContextKeys は Render が出力するキーの正規の順序です。
var ContextKeys = []string{
	FieldName,
	FieldRace,
	FieldTags,
	FieldDescription,
	FieldStats,
	FieldLore,
	FieldRole,
	FieldPlayerClass,
	FieldLevel,
}

var kindFields = map[Kind][]string{
	KindEntity: {FieldName, FieldRace, FieldTags, FieldDescription, FieldStats},
	KindNPC:    {FieldName, FieldRace, FieldTags, FieldDescription, FieldStats, FieldLore, FieldRole},
	KindPlayer: {FieldName, FieldRace, FieldTags, FieldDescription, FieldStats, FieldLore, FieldPlayerClass, FieldLevel},
}

// ParseKind は "NPC" や "player" のような表記を Kind に変換します。
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kindFields[k]; !ok {
		return "", apperr.Validation("type", fmt.Sprintf("unknown character type %q", s))
	}
	return k, nil
}

// Collection は種類ごとの保存先コレクション名を返します。
func (k Kind) Collection() string {
	switch k {
	case KindNPC:
		return store.CollectionNPCs
	case KindPlayer:
		return store.CollectionPlayers
	}
	return store.CollectionEntities
}

// IdentifyingField は一覧取得時に走査するフィールドです。作成時には必ず書き込まれます。
func (k Kind) IdentifyingField() string {
	switch k {
	case KindNPC:
		return FieldRole
	case KindPlayer:
		return FieldPlayerClass
	}
	return FieldDescription
}

// Has は field がこの種類のキャラクターに存在するかどうかを返します。
func (k Kind) Has(field string) bool {
	for _, f := range kindFields[k] {
		if f == field {
			return true
		}
	}
	return false
}

// Record はある時点で読み出したキャラクターの全フィールドです。
type Record struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"type"`
	Name        string   `json:"name,omitempty"`
	Race        string   `json:"race"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	Stats       Stats    `json:"stats"`
	Lore        []string `json:"lore,omitempty"`
	Role        string   `json:"role,omitempty"`
	PlayerClass string   `json:"player_class,omitempty"`
	Level       int      `json:"level,omitempty"`
}

// Render はキャラクターを "key: value" の行に変換します。
// キーの順序は ContextKeys に固定で、その種類に存在しないフィールドや空の値は "N/A" になります。
// 同じ状態からは常に同じ文字列が得られます。
func Render(r *Record) string {
	var sb strings.Builder
	for _, key := range ContextKeys {
		value := "N/A"
		if r.Kind.Has(key) {
			if v := r.value(key); v != "" {
				value = v
			}
		}
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func (r *Record) value(key string) string {
	switch key {
	case FieldName:
		return r.Name
	case FieldRace:
		return r.Race
	case FieldTags:
		return strings.Join(r.Tags, ", ")
	case FieldDescription:
		return r.Description
	case FieldStats:
		if r.Stats == nil {
			return ""
		}
		return r.Stats.String()
	case FieldLore:
		return strings.Join(r.Lore, ", ")
	case FieldRole:
		return r.Role
	case FieldPlayerClass:
		return r.PlayerClass
	case FieldLevel:
		return strconv.Itoa(r.Level)
	}
	return ""
}

// recordFromDocument は保存済みドキュメントを Record に変換します。
func recordFromDocument(kind Kind, doc store.Document) (*Record, error) {
	r := &Record{
		ID:          doc.ID(),
		Kind:        kind,
		Name:        stringField(doc, FieldName),
		Race:        stringField(doc, FieldRace),
		Tags:        stringsField(doc, FieldTags),
		Description: stringField(doc, FieldDescription),
		Lore:        stringsField(doc, FieldLore),
		Role:        stringField(doc, FieldRole),
		PlayerClass: stringField(doc, FieldPlayerClass),
	}
	if n, ok := toInt(doc[FieldLevel]); ok {
		r.Level = n
	}
	stats, err := ParseStats(doc[FieldStats])
	if err != nil {
		return nil, fmt.Errorf("character %s %s: %w", kind, r.ID, err)
	}
	r.Stats = stats
	return r, nil
}

func stringField(doc store.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}

func stringsField(doc store.Document, field string) []string {
	raw, ok := doc[field].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
