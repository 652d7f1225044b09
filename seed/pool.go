// Package seed はデモ用のキャラクターとボットを YAML から読み込み、ストアに書き込みます。
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sat8bit/tavern/agent"
	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/character"
	"github.com/sat8bit/tavern/configs"
)

// Character は 1 キャラクター分の定義です。Key は seed ファイル内での名前です。
type Character struct {
	Key              string `yaml:"key"`
	Type             string `yaml:"type"`
	character.Fields `yaml:",inline"`
}

// ChatBot は会話ボットの定義です。
type ChatBot struct {
	Key                 string      `yaml:"key"`
	Name                string      `yaml:"name"`
	ContextualizePrompt string      `yaml:"contextualize_q_system_prompt"`
	AnswerPrompt        string      `yaml:"qa_system_prompt"`
	Config              *bot.Config `yaml:"config"`
}

// ReasoningBot は推論ボットの定義と、Agent に組み込むときの実行間隔です。
type ReasoningBot struct {
	Key              string      `yaml:"key"`
	Name             string      `yaml:"name"`
	ReasoningPrompt  string      `yaml:"reasoning_system_prompt"`
	TargetCollection string      `yaml:"reasoning_collection_name"`
	Config           *bot.Config `yaml:"config"`
	Frequency        int         `yaml:"frequency"`
	LookBack         int         `yaml:"look_back"`
}

type Pool struct {
	Characters []*Character `yaml:"characters"`
	Bots       struct {
		Chat      []*ChatBot      `yaml:"chat"`
		Reasoning []*ReasoningBot `yaml:"reasoning"`
	} `yaml:"bots"`
}

// NewPool は埋め込みの seed.yaml を読み込みます。
func NewPool() (*Pool, error) {
	return Load(configs.Seed)
}

// Load は YAML を読み込み、キーの重複や種類の誤りを検査します。
func Load(data []byte) (*Pool, error) {
	var p Pool
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pool) validate() error {
	seen := make(map[string]bool)
	check := func(key string) error {
		if key == "" {
			return fmt.Errorf("seed: entry without key")
		}
		if seen[key] {
			return fmt.Errorf("seed: duplicate key %q", key)
		}
		seen[key] = true
		return nil
	}
	for _, c := range p.Characters {
		if err := check(c.Key); err != nil {
			return err
		}
		if _, err := character.ParseKind(c.Type); err != nil {
			return fmt.Errorf("seed: %s: %w", c.Key, err)
		}
	}
	for _, b := range p.Bots.Chat {
		if err := check(b.Key); err != nil {
			return err
		}
	}
	for _, b := range p.Bots.Reasoning {
		if err := check(b.Key); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) GetCharacter(key string) (*Character, error) {
	for _, c := range p.Characters {
		if c.Key == key {
			return c, nil
		}
	}
	return nil, fmt.Errorf("character with key '%s' not found", key)
}

// GetRandomN は種類が player か npc のキャラクターをランダムに n 人選びます。
// n が 0 以下か候補より多い場合は全員を返します。
func (p *Pool) GetRandomN(n int) ([]*Character, error) {
	var candidates []*Character
	for _, c := range p.Characters {
		if c.Type != string(character.KindEntity) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no characters available")
	}
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	selected := make([]*Character, 0, n)
	for _, i := range rand.Perm(len(candidates))[:n] {
		selected = append(selected, candidates[i])
	}
	return selected, nil
}

// Result は Apply で書き込んだ ID です。キーは seed ファイル内の Key です。
type Result struct {
	Characters map[string]*character.Character
	ChatBots   map[string]*bot.ChatBot
	Schedules  []agent.Schedule
}

// Apply はプールの全件をストアに書き込みます。
// 同じ種類で同じ名前のレコードが既にあればそれを使い回すため、繰り返し呼んでも重複しません。
// 既存レコードの内容は更新しません。
func (p *Pool) Apply(ctx context.Context, chars *character.Repository, bots *bot.Repository) (*Result, error) {
	res := &Result{
		Characters: make(map[string]*character.Character),
		ChatBots:   make(map[string]*bot.ChatBot),
	}
	existing, err := existingBots(ctx, bots)
	if err != nil {
		return nil, err
	}
	seen := make(map[character.Kind]map[string]string)

	for _, c := range p.Characters {
		kind, err := character.ParseKind(c.Type)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[kind]; !ok {
			if seen[kind], err = existingCharacters(ctx, chars, kind); err != nil {
				return nil, err
			}
		}
		if id, ok := seen[kind][c.Name]; ok && c.Name != "" {
			found, err := chars.Resolve(ctx, kind, id)
			if err != nil {
				return nil, fmt.Errorf("seed: character %s: %w", c.Key, err)
			}
			res.Characters[c.Key] = found
			continue
		}
		created, err := chars.Create(ctx, kind, c.Fields)
		if err != nil {
			return nil, fmt.Errorf("seed: character %s: %w", c.Key, err)
		}
		res.Characters[c.Key] = created
	}

	for _, b := range p.Bots.Chat {
		if id, ok := existing[bot.KindChat][b.Name]; ok && b.Name != "" {
			found, err := bots.LoadChat(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("seed: bot %s: %w", b.Key, err)
			}
			res.ChatBots[b.Key] = found
			continue
		}
		created, err := bots.CreateChat(ctx, bot.ChatBot{
			Name:                b.Name,
			ContextualizePrompt: b.ContextualizePrompt,
			AnswerPrompt:        b.AnswerPrompt,
			Config:              configOrZero(b.Config),
		})
		if err != nil {
			return nil, fmt.Errorf("seed: bot %s: %w", b.Key, err)
		}
		res.ChatBots[b.Key] = created
	}

	for _, b := range p.Bots.Reasoning {
		var rb *bot.ReasoningBot
		if id, ok := existing[bot.KindReasoning][b.Name]; ok && b.Name != "" {
			rb, err = bots.LoadReasoning(ctx, id)
		} else {
			rb, err = bots.CreateReasoning(ctx, bot.ReasoningBot{
				Name:             b.Name,
				ReasoningPrompt:  b.ReasoningPrompt,
				TargetCollection: b.TargetCollection,
				Config:           configOrZero(b.Config),
			})
		}
		if err != nil {
			return nil, fmt.Errorf("seed: bot %s: %w", b.Key, err)
		}
		res.Schedules = append(res.Schedules, agent.Schedule{
			Bot:       rb,
			Frequency: b.Frequency,
			LookBack:  b.LookBack,
		})
	}
	return res, nil
}

// existingCharacters は kind の名前から ID への対応を返します。同名が複数あれば最初のものを使います。
func existingCharacters(ctx context.Context, chars *character.Repository, kind character.Kind) (map[string]string, error) {
	recs, err := chars.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("seed: listing %s: %w", kind, err)
	}
	byName := make(map[string]string, len(recs))
	for _, r := range recs {
		if _, ok := byName[r.Name]; !ok && r.Name != "" {
			byName[r.Name] = r.ID
		}
	}
	return byName, nil
}

func existingBots(ctx context.Context, bots *bot.Repository) (map[bot.Kind]map[string]string, error) {
	summaries, err := bots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed: listing bots: %w", err)
	}
	out := map[bot.Kind]map[string]string{
		bot.KindChat:      {},
		bot.KindReasoning: {},
	}
	for _, s := range summaries {
		byName, ok := out[s.Kind]
		if !ok || s.Name == "" {
			continue
		}
		if _, dup := byName[s.Name]; !dup {
			byName[s.Name] = s.ID
		}
	}
	return out, nil
}

func configOrZero(c *bot.Config) bot.Config {
	if c == nil {
		return bot.Config{}
	}
	return *c
}

// LoadFile は path の YAML を Load します。
func LoadFile(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	return Load(data)
}
