package feed

import (
	"context"
	"time"

	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/store"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const Name = "feed.xml"

type Generator struct {
	lister    store.Lister
	publicURL string
	now       func() time.Time
}

func NewGenerator(i *do.Injector) (*Generator, error) {
	return &Generator{
		lister:    do.MustInvoke[store.Lister](i),
		publicURL: do.MustInvokeNamed[string](i, "public_url"),
		now:       time.Now,
	}, nil
}

func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed")
	log.Info("generating rss feed")

	objs, err := g.lister.List(ctx, ".jpg")
	if err != nil {
		return nil, err
	}

	feed := feeds.Feed{
		Title:       "sdturbo",
		Description: "Images generated with SDXL Turbo",
		Link:        &feeds.Link{Href: g.publicURL + "/"},
		Updated:     g.now(),
		Items: lo.Map(objs, func(o store.Object, _ int) *feeds.Item {
			return &feeds.Item{
				Title:       lo.Ternary(o.Metadata["prompt"] != "", o.Metadata["prompt"], o.Key),
				Link:        &feeds.Link{Href: g.publicURL + "/" + o.Key},
				Id:          o.Key,
				Description: o.Metadata["date"],
				Updated:     o.LastModified,
			}
		}),
	}

	rss, err := feed.ToRss()
	return []byte(rss), err
}
