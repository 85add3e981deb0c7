// Package manuscript compiles the written story out of the store into
// deliverable artifacts. It consumes only the store's read surface; nothing
// here mutates narrative state.
package manuscript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/novelist/internal/store"
)

// sceneSeparator marks scene breaks within a chapter.
const sceneSeparator = "* * *"

// CompiledChapter is one chapter's assembled text plus word accounting.
type CompiledChapter struct {
	Number int
	Title  string
	Scenes []string
	Words  int
}

// Manuscript is the full compiled story.
type Manuscript struct {
	Title      string
	Chapters   []CompiledChapter
	TotalWords int
}

// Text renders the manuscript as a single document.
func (m *Manuscript) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", m.Title)
	for _, ch := range m.Chapters {
		fmt.Fprintf(&b, "\n\nChapter %d: %s\n", ch.Number, ch.Title)
		for i, scene := range ch.Scenes {
			if i > 0 {
				fmt.Fprintf(&b, "\n%s\n", sceneSeparator)
			}
			fmt.Fprintf(&b, "\n%s\n", scene)
		}
	}
	return b.String()
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Assembler reads the finished story out of the store.
type Assembler struct {
	store  *store.Store
	logger *slog.Logger
}

func NewAssembler(s *store.Store) *Assembler {
	return &Assembler{
		store:  s,
		logger: slog.Default().With("component", "manuscript"),
	}
}

// Compile assembles every written scene in story order. Unwritten scenes
// are skipped, so a partial story compiles to whatever is recoverable.
func (a *Assembler) Compile(ctx context.Context) (*Manuscript, error) {
	st, err := a.store.Story(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling manuscript: %w", err)
	}
	chapters, err := a.store.Chapters(ctx)
	if err != nil {
		return nil, err
	}

	m := &Manuscript{Title: st.Title}
	for _, ch := range chapters {
		compiled := CompiledChapter{Number: ch.Number, Title: ch.Title}
		scenes, err := a.store.ScenesInChapter(ctx, ch.Number)
		if err != nil {
			return nil, err
		}
		for _, sc := range scenes {
			if sc.Content == "" {
				continue
			}
			compiled.Scenes = append(compiled.Scenes, sc.Content)
			compiled.Words += CountWords(sc.Content)
		}
		m.TotalWords += compiled.Words
		m.Chapters = append(m.Chapters, compiled)
	}

	a.logger.Info("manuscript compiled",
		"chapters", len(m.Chapters), "words", m.TotalWords)
	return m, nil
}

// ChapterInfo is the per-chapter slice of the YAML info export.
type ChapterInfo struct {
	Number  int    `yaml:"number"`
	Title   string `yaml:"title"`
	Summary string `yaml:"summary,omitempty"`
	Scenes  int    `yaml:"scenes"`
	Words   int    `yaml:"words"`
}

// Info is the machine-readable story summary exported alongside the
// manuscript.
type Info struct {
	Title      string        `yaml:"title"`
	Genre      string        `yaml:"genre"`
	Tone       string        `yaml:"tone"`
	Premise    string        `yaml:"premise"`
	Completed  bool          `yaml:"completed"`
	TotalWords int           `yaml:"total_words"`
	Chapters   []ChapterInfo `yaml:"chapters"`
	Characters []string      `yaml:"characters"`
}

// Info gathers the story summary for export.
func (a *Assembler) Info(ctx context.Context) (*Info, error) {
	st, err := a.store.Story(ctx)
	if err != nil {
		return nil, err
	}
	m, err := a.Compile(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Title:      st.Title,
		Genre:      st.Genre,
		Tone:       st.Tone,
		Premise:    st.Premise,
		Completed:  st.Completed,
		TotalWords: m.TotalWords,
	}
	chapters, err := a.store.Chapters(ctx)
	if err != nil {
		return nil, err
	}
	for i, ch := range chapters {
		info.Chapters = append(info.Chapters, ChapterInfo{
			Number:  ch.Number,
			Title:   ch.Title,
			Summary: ch.Summary,
			Scenes:  len(m.Chapters[i].Scenes),
			Words:   m.Chapters[i].Words,
		})
	}
	characters, err := a.store.Characters(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range characters {
		info.Characters = append(info.Characters, c.Name)
	}
	return info, nil
}

// Export writes the manuscript and its YAML info file through the artifact
// store.
func (a *Assembler) Export(ctx context.Context, artifacts *ArtifactStore) error {
	m, err := a.Compile(ctx)
	if err != nil {
		return err
	}
	if err := artifacts.Save(ctx, "manuscript.md", []byte(m.Text())); err != nil {
		return fmt.Errorf("exporting manuscript: %w", err)
	}

	info, err := a.Info(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling story info: %w", err)
	}
	if err := artifacts.Save(ctx, "story_info.yaml", data); err != nil {
		return fmt.Errorf("exporting story info: %w", err)
	}
	return nil
}
