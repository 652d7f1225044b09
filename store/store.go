package store

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// コレクション名。
const (
	CollectionEntities = "Entities"
	CollectionNPCs     = "NPCs"
	CollectionPlayers  = "Players"
	CollectionBots     = "Bots"
	CollectionSessions = "Sessions"
	CollectionMemories = "Memories"
)

// IDField はドキュメントの識別子を保持するフィールド名です。
const IDField = "_id"

// ErrNotFound は Get / Set / Push で対象ドキュメントが存在しない場合に返されます。
var ErrNotFound = errors.New("document not found")

// Document は永続化されるドキュメントです。
// 数値はバックエンドに関わらず JSON の規則（float64）でデコードされます。
type Document map[string]any

// ID はドキュメントの _id を返します。
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Store は会話ワークフローが必要とするドキュメントストアの最小契約です。
// ID による取得、単一フィールドの部分更新、配列への追記、
// フィールドの有無による全件走査、挿入順での等値検索を提供します。
type Store interface {
	// Insert は新しいドキュメントを保存し、新しい ID を発行して返します。
	Insert(ctx context.Context, collection string, doc Document) (string, error)

	// InsertMany は複数のドキュメントを与えられた順に、ひとまとまりで保存します。
	InsertMany(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Get は ID でドキュメントを取得します。存在しなければ ErrNotFound。
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set は 1 フィールドだけを書き換えます。ドキュメント全体は置き換えません。
	Set(ctx context.Context, collection, id, field string, value any) error

	// Push は配列フィールドの末尾に value を追加します。フィールドが無ければ作成します。
	Push(ctx context.Context, collection, id, field string, value any) error

	// Scan は field を持つドキュメントを挿入順に返します。
	Scan(ctx context.Context, collection, field string) ([]Document, error)

	// Find は field == value のドキュメントを挿入順に返します。
	Find(ctx context.Context, collection, field, value string) ([]Document, error)

	Close(ctx context.Context) error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FieldPath は field を JSON パス（$.field）に変換します。
// SQL バックエンドはパスを文字列として埋め込むため、識別子として安全な名前だけを許可します。
func FieldPath(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", errors.Errorf("invalid field name %q", field)
	}
	return "$." + field, nil
}

// ValidateField は書き込み対象として許可されるフィールド名かどうかを検査します。
func ValidateField(field string) error {
	if _, err := FieldPath(field); err != nil {
		return err
	}
	if field == IDField {
		return errors.New("the _id field is immutable")
	}
	return nil
}

// NewID は新しいドキュメント ID を発行します。
func NewID() string {
	return uuid.NewString()
}

// IsNotFound は err が ErrNotFound を原因に持つかどうかを返します。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DecodeDocument は JSON 表現からドキュメントを復元します。
func DecodeDocument(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return doc, nil
}

// EncodeDocument は doc に id を設定した JSON 表現を返します。
func EncodeDocument(doc Document, id string) ([]byte, error) {
	raw, err := json.Marshal(withID(doc, id))
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return raw, nil
}

// withID は doc のコピーに id を設定して返します。
func withID(doc Document, id string) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[IDField] = id
	return out
}
