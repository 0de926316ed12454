// Package research suggests script topics by scanning the configured
// subreddits for stories that already proved they hold attention.
package research

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"drama-lab-pipeline/internal/config"
)

// Topic is one candidate story for the script step.
type Topic struct {
	Title     string `json:"title"`
	Subreddit string `json:"subreddit"`
	Permalink string `json:"permalink"`
	Score     int    `json:"score"`
}

type Finder struct {
	cfg    *config.Config
	client *reddit.Client
}

// New builds a Finder. With REDDIT_CLIENT_ID/SECRET set it authenticates;
// otherwise it falls back to the read-only client, which is enough for
// public top-post listings.
func New(cfg *config.Config) (*Finder, error) {
	var client *reddit.Client
	var err error

	clientID := os.Getenv("REDDIT_CLIENT_ID")
	clientSecret := os.Getenv("REDDIT_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       clientID,
			Secret:   clientSecret,
			Username: os.Getenv("REDDIT_USERNAME"),
			Password: os.Getenv("REDDIT_PASSWORD"),
		})
	} else {
		client, err = reddit.NewReadonlyClient()
	}
	if err != nil {
		return nil, fmt.Errorf("reddit client: %w", err)
	}
	return &Finder{cfg: cfg, client: client}, nil
}

// Topics returns score-sorted candidates from all configured subreddits.
// A single failing subreddit is logged and skipped, not fatal.
func (f *Finder) Topics(ctx context.Context) ([]Topic, error) {
	if len(f.cfg.Research.Subreddits) == 0 {
		return nil, fmt.Errorf("no subreddits configured under research.subreddits")
	}

	var topics []Topic
	for _, sub := range f.cfg.Research.Subreddits {
		posts, _, err := f.client.Subreddit.TopPosts(ctx, sub, &reddit.ListPostOptions{
			ListOptions: reddit.ListOptions{Limit: f.cfg.Research.MaxPosts},
			Time:        f.cfg.Research.Window,
		})
		if err != nil {
			log.Printf("[research] r/%s: %v", sub, err)
			continue
		}
		for _, post := range posts {
			if post.Score < f.cfg.Research.MinScore {
				continue
			}
			topics = append(topics, Topic{
				Title:     post.Title,
				Subreddit: sub,
				Permalink: "https://reddit.com" + post.Permalink,
				Score:     post.Score,
			})
		}
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics found in any configured subreddit")
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i].Score > topics[j].Score })
	return topics, nil
}
