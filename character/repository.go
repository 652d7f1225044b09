package character

import (
	"context"
	"fmt"

	"github.com/sat8bit/tavern/apperr"
	"github.com/sat8bit/tavern/store"
)

// Fields は新しいキャラクターを作るときの入力です。
// Stats はマップか、プリセット名（"default" / "average"）を受け付けます。
type Fields struct {
	Name        string   `json:"name,omitempty" yaml:"name"`
	Race        string   `json:"race,omitempty" yaml:"race"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Stats       any      `json:"stats,omitempty" yaml:"stats"`
	Lore        []string `json:"lore,omitempty" yaml:"lore"`
	Role        string   `json:"role,omitempty" yaml:"role"`
	PlayerClass string   `json:"player_class,omitempty" yaml:"player_class"`
	Level       int      `json:"level,omitempty" yaml:"level"`
}

// Repository はキャラクターの取得と作成を担当します。
type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Resolve は既存のキャラクターを ID で取得します。
// 存在しなければ NotFoundError を返し、ストアへの書き込みは一切行いません。
func (r *Repository) Resolve(ctx context.Context, kind Kind, id string) (*Character, error) {
	if id == "" {
		return nil, apperr.Validation("id", "character id is required")
	}
	if _, err := r.store.Get(ctx, kind.Collection(), id); err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound(kind.Collection(), id)
		}
		return nil, fmt.Errorf("character.Repository.Resolve: %w", err)
	}
	return &Character{id: id, kind: kind, repo: r}, nil
}

// Create は fields から新しいキャラクターを保存し、新しい ID を持つハンドルを返します。
// 内容の重複は検査しません。
func (r *Repository) Create(ctx context.Context, kind Kind, fields Fields) (*Character, error) {
	doc, err := newDocument(kind, fields)
	if err != nil {
		return nil, err
	}
	id, err := r.store.Insert(ctx, kind.Collection(), doc)
	if err != nil {
		return nil, fmt.Errorf("character.Repository.Create: %w", err)
	}
	return &Character{id: id, kind: kind, repo: r}, nil
}

// List は kind のキャラクターを作成順に返します。
func (r *Repository) List(ctx context.Context, kind Kind) ([]*Record, error) {
	docs, err := r.store.Scan(ctx, kind.Collection(), kind.IdentifyingField())
	if err != nil {
		return nil, fmt.Errorf("character.Repository.List: %w", err)
	}
	out := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := recordFromDocument(kind, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func newDocument(kind Kind, f Fields) (store.Document, error) {
	if _, ok := kindFields[kind]; !ok {
		return nil, apperr.Validation("type", fmt.Sprintf("unknown character type %q", kind))
	}
	stats, err := ParseStats(f.Stats)
	if err != nil {
		return nil, err
	}

	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	doc := store.Document{
		FieldRace:        f.Race,
		FieldTags:        tags,
		FieldDescription: f.Description,
		FieldStats:       map[string]int(stats),
	}
	if f.Name != "" || kind != KindEntity {
		doc[FieldName] = f.Name
	}

	lore := f.Lore
	if lore == nil {
		lore = []string{}
	}
	switch kind {
	case KindNPC:
		doc[FieldRole] = f.Role
		doc[FieldLore] = lore
	case KindPlayer:
		doc[FieldPlayerClass] = f.PlayerClass
		doc[FieldLevel] = f.Level
		doc[FieldLore] = lore
	}
	return doc, nil
}

// Character は保存済みキャラクターへのハンドルです。
// 値はキャッシュせず、ゲッターを呼ぶたびにストアから読み直します。
// セッターは 1 フィールドだけを部分更新し、ドキュメント全体を置き換えることはありません。
type Character struct {
	id   string
	kind Kind
	repo *Repository
}

func (c *Character) ID() string { return c.id }

func (c *Character) Kind() Kind { return c.kind }

func (c *Character) document(ctx context.Context) (store.Document, error) {
	doc, err := c.repo.store.Get(ctx, c.kind.Collection(), c.id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound(c.kind.Collection(), c.id)
		}
		return nil, fmt.Errorf("character.Character: %w", err)
	}
	return doc, nil
}

// Record は現在の状態をまとめて読み出します。
func (c *Character) Record(ctx context.Context) (*Record, error) {
	doc, err := c.document(ctx)
	if err != nil {
		return nil, err
	}
	return recordFromDocument(c.kind, doc)
}

// ContextString は Render の結果を返します。検索用コンテキストの元になります。
func (c *Character) ContextString(ctx context.Context) (string, error) {
	rec, err := c.Record(ctx)
	if err != nil {
		return "", err
	}
	return Render(rec), nil
}

func (c *Character) stringValue(ctx context.Context, field string) (string, error) {
	doc, err := c.document(ctx)
	if err != nil {
		return "", err
	}
	return stringField(doc, field), nil
}

func (c *Character) Name(ctx context.Context) (string, error) {
	return c.stringValue(ctx, FieldName)
}

func (c *Character) Race(ctx context.Context) (string, error) {
	return c.stringValue(ctx, FieldRace)
}

func (c *Character) Description(ctx context.Context) (string, error) {
	return c.stringValue(ctx, FieldDescription)
}

func (c *Character) Role(ctx context.Context) (string, error) {
	return c.stringValue(ctx, FieldRole)
}

func (c *Character) PlayerClass(ctx context.Context) (string, error) {
	return c.stringValue(ctx, FieldPlayerClass)
}

func (c *Character) Tags(ctx context.Context) ([]string, error) {
	doc, err := c.document(ctx)
	if err != nil {
		return nil, err
	}
	return stringsField(doc, FieldTags), nil
}

func (c *Character) Lore(ctx context.Context) ([]string, error) {
	doc, err := c.document(ctx)
	if err != nil {
		return nil, err
	}
	return stringsField(doc, FieldLore), nil
}

func (c *Character) Stats(ctx context.Context) (Stats, error) {
	doc, err := c.document(ctx)
	if err != nil {
		return nil, err
	}
	return ParseStats(doc[FieldStats])
}

func (c *Character) Level(ctx context.Context) (int, error) {
	doc, err := c.document(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := toInt(doc[FieldLevel])
	return n, nil
}

// set は field がこの種類に存在することを確認してから部分更新します。
func (c *Character) set(ctx context.Context, field string, value any) error {
	if !c.kind.Has(field) {
		return apperr.Validation(field, fmt.Sprintf("%s has no %s", c.kind, field))
	}
	if err := c.repo.store.Set(ctx, c.kind.Collection(), c.id, field, value); err != nil {
		if store.IsNotFound(err) {
			return apperr.NotFound(c.kind.Collection(), c.id)
		}
		return fmt.Errorf("character.Character.set %s: %w", field, err)
	}
	return nil
}

func (c *Character) SetName(ctx context.Context, name string) error {
	return c.set(ctx, FieldName, name)
}

func (c *Character) SetRace(ctx context.Context, race string) error {
	return c.set(ctx, FieldRace, race)
}

func (c *Character) SetDescription(ctx context.Context, description string) error {
	return c.set(ctx, FieldDescription, description)
}

func (c *Character) SetTags(ctx context.Context, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	return c.set(ctx, FieldTags, tags)
}

// SetStats はマップかプリセット名を受け取り、検証してから書き込みます。
func (c *Character) SetStats(ctx context.Context, v any) error {
	stats, err := ParseStats(v)
	if err != nil {
		return err
	}
	return c.set(ctx, FieldStats, map[string]int(stats))
}

func (c *Character) SetRole(ctx context.Context, role string) error {
	return c.set(ctx, FieldRole, role)
}

func (c *Character) SetPlayerClass(ctx context.Context, class string) error {
	return c.set(ctx, FieldPlayerClass, class)
}

func (c *Character) SetLevel(ctx context.Context, level int) error {
	if level < 0 {
		return apperr.Validation(FieldLevel, "must not be negative")
	}
	return c.set(ctx, FieldLevel, level)
}

// SetField は名前で指定した 1 フィールドを書き込みます。
// HTTP や MCP から受け取った JSON の値（string, []any, float64, map）をそのまま渡せます。
func (c *Character) SetField(ctx context.Context, field string, value any) error {
	switch field {
	case FieldName, FieldRace, FieldDescription, FieldRole, FieldPlayerClass:
		s, ok := value.(string)
		if !ok {
			return apperr.Validation(field, "must be a string")
		}
		return c.set(ctx, field, s)
	case FieldTags, FieldLore:
		list, ok := toStrings(value)
		if !ok {
			return apperr.Validation(field, "must be a list of strings")
		}
		return c.set(ctx, field, list)
	case FieldStats:
		if !c.kind.Has(FieldStats) {
			return apperr.Validation(field, fmt.Sprintf("%s has no %s", c.kind, field))
		}
		return c.SetStats(ctx, value)
	case FieldLevel:
		n, ok := toInt(value)
		if !ok {
			return apperr.Validation(field, "must be an integer")
		}
		if !c.kind.Has(FieldLevel) {
			return apperr.Validation(field, fmt.Sprintf("%s has no %s", c.kind, field))
		}
		return c.SetLevel(ctx, n)
	}
	return apperr.Validation(field, "unknown field")
}

func toStrings(v any) ([]string, bool) {
	switch in := v.(type) {
	case nil:
		return []string{}, true
	case []string:
		return in, true
	case []any:
		out := make([]string, 0, len(in))
		for _, e := range in {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// AddLore は伝承を末尾に追加します。既存の順序は変わりません。
func (c *Character) AddLore(ctx context.Context, entry string) error {
	if !c.kind.Has(FieldLore) {
		return apperr.Validation(FieldLore, fmt.Sprintf("%s has no %s", c.kind, FieldLore))
	}
	if err := c.repo.store.Push(ctx, c.kind.Collection(), c.id, FieldLore, entry); err != nil {
		if store.IsNotFound(err) {
			return apperr.NotFound(c.kind.Collection(), c.id)
		}
		return fmt.Errorf("character.Character.AddLore: %w", err)
	}
	return nil
}

// WipeLore は伝承を空にします。
func (c *Character) WipeLore(ctx context.Context) error {
	return c.set(ctx, FieldLore, []string{})
}

// EntityLike は会話の相手として振る舞えるものが満たすインターフェースです。
type EntityLike interface {
	ID() string
	Kind() Kind
	Name(ctx context.Context) (string, error)
	Race(ctx context.Context) (string, error)
	Tags(ctx context.Context) ([]string, error)
	Description(ctx context.Context) (string, error)
	Stats(ctx context.Context) (Stats, error)
	ContextString(ctx context.Context) (string, error)
}

var _ EntityLike = (*Character)(nil)
