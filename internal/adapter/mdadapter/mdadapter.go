package mdadapter

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
)

// Frontmatter is the optional yaml header of a release description.
type Frontmatter struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
}

type mdAdapter struct {
	md  goldmark.Markdown
	log *slog.Logger
}

func NewMDAdapter(log *slog.Logger) *mdAdapter {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
			extension.Linkify,
			extension.TaskList,
			&frontmatter.Extender{},
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &mdAdapter{
		md:  md,
		log: log.With(slog.String("item", "MDAdapter")),
	}
}

/*
Render converts a release description to HTML. A frontmatter title wins over the
release name, raw HTML in the source is not passed through.
*/
func (a *mdAdapter) Render(rel *entity.Release) (*entity.ReleaseNotes, error) {
	var buf bytes.Buffer

	ctx := parser.NewContext()
	if err := a.md.Convert([]byte(rel.Description), &buf, parser.WithContext(ctx)); err != nil {
		a.log.Error("Cannot convert markdown", slog.String("release", rel.Name), slog.Any("error", err))

		return nil, fmt.Errorf("cannot convert release description: %w", err)
	}

	notes := &entity.ReleaseNotes{
		Title:   rel.Name,
		Version: rel.Version,
		Logo:    rel.Logo,
		HTML:    buf.String(),
	}

	if data := frontmatter.Get(ctx); data != nil {
		var fm Frontmatter
		if err := data.Decode(&fm); err != nil {
			return nil, fmt.Errorf("cannot read frontmatter from release description: %w", err)
		}

		if fm.Title != "" {
			notes.Title = fm.Title
		}
		notes.Author = fm.Author
	}

	return notes, nil
}
