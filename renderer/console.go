package renderer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sat8bit/tavern/bus"
	"github.com/sat8bit/tavern/message"
)

// speakerColors は発言者ごとに順番に割り当てる色です。
var speakerColors = []string{"212", "39", "42", "214", "135", "81"}

// Console はバスのメッセージを lipgloss で装飾して書き出します。
type Console struct {
	w io.Writer
	// Delay は 1 文字ごとの表示間隔です。0 なら一度に書き出します。
	Delay time.Duration
	// ShowLogs が false の場合、KindLog のメッセージは表示しません。
	ShowLogs bool

	system    lipgloss.Style
	errStyle  lipgloss.Style
	reasoning lipgloss.Style
	logStyle  lipgloss.Style

	r        *lipgloss.Renderer
	speakers map[string]lipgloss.Style
}

func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:         w,
		r:         r,
		system:    r.NewStyle().Foreground(lipgloss.Color("62")).Bold(true),
		errStyle:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		reasoning: r.NewStyle().Foreground(lipgloss.Color("243")).Italic(true),
		logStyle:  r.NewStyle().Foreground(lipgloss.Color("240")),
		speakers:  make(map[string]lipgloss.Style),
	}
}

func (c *Console) Render(b bus.Bus, wg *sync.WaitGroup) error {
	ch := b.Subscribe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for m := range ch {
			c.write(m)
		}
	}()
	return nil
}

func (c *Console) write(m *message.Message) {
	switch m.Kind {
	case message.KindSystem:
		fmt.Fprintln(c.w, c.system.Render("[System] "+m.Text))
	case message.KindEnd:
		fmt.Fprintln(c.w, c.system.Render("[End] "+m.Text))
	case message.KindError:
		fmt.Fprintln(c.w, c.errStyle.Render("[Error] "+m.Text))
	case message.KindLog:
		if c.ShowLogs {
			fmt.Fprintln(c.w, c.logStyle.Render(m.Text))
		}
	case message.KindReasoning:
		fmt.Fprintln(c.w, c.reasoning.Render(fmt.Sprintf("(%s) %s", m.From, m.Text)))
	default:
		fmt.Fprint(c.w, c.speaker(m.From).Render(m.From+":")+" ")
		if c.Delay <= 0 {
			fmt.Fprintln(c.w, m.Text)
			return
		}
		for _, r := range m.Text {
			fmt.Fprint(c.w, string(r))
			time.Sleep(c.Delay)
		}
		fmt.Fprintln(c.w)
	}
}

func (c *Console) speaker(name string) lipgloss.Style {
	if s, ok := c.speakers[name]; ok {
		return s
	}
	color := speakerColors[len(c.speakers)%len(speakerColors)]
	s := c.r.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
	c.speakers[name] = s
	return s
}

// Finalize は Renderer インターフェースを実装するためのメソッドです。
// Console では特に何も行いません。
func (c *Console) Finalize() error {
	return nil
}

var _ Renderer = (*Console)(nil)
