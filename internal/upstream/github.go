package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GitHubConfig configures the GitHub-backed feed source.
type GitHubConfig struct {
	APIURL     string // https://api.github.com
	RawURL     string // https://raw.githubusercontent.com
	Repo       string // owner/name
	Branch     string
	Token      string
	MaxElapsed time.Duration
}

// GitHub reads the feed's commit log through the REST API and record files
// through raw content URLs.
type GitHub struct {
	cfg    GitHubConfig
	client *http.Client
	logger *zap.Logger
}

// NewGitHub returns a GitHub source. A nil client uses a client with a 30s timeout.
func NewGitHub(cfg GitHubConfig, client *http.Client, logger *zap.Logger) *GitHub {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.RawURL = strings.TrimRight(cfg.RawURL, "/")
	return &GitHub{cfg: cfg, client: client, logger: logger}
}

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
		Message string `json:"message"`
	} `json:"commit"`
}

func (g *GitHub) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github+json"}
	if g.cfg.Token != "" {
		h["Authorization"] = "Bearer " + g.cfg.Token
	}
	return h
}

// Commits returns one page (1-based) of the commit log, newest first.
func (g *GitHub) Commits(ctx context.Context, page, perPage int) ([]Commit, error) {
	q := url.Values{}
	q.Set("per_page", fmt.Sprint(perPage))
	q.Set("page", fmt.Sprint(page))
	if g.cfg.Branch != "" {
		q.Set("sha", g.cfg.Branch)
	}
	u := fmt.Sprintf("%s/repos/%s/commits?%s", g.cfg.APIURL, g.cfg.Repo, q.Encode())

	body, err := getWithRetry(ctx, g.client, u, g.headers(), g.cfg.MaxElapsed, g.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits page %d: %w", page, err)
	}

	var raw []githubCommit
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode commits page %d: %w", page, err)
	}

	commits := make([]Commit, 0, len(raw))
	for _, c := range raw {
		commits = append(commits, Commit{
			SHA:        c.SHA,
			AuthorName: c.Commit.Author.Name,
			AuthoredAt: c.Commit.Author.Date.UTC(),
			Message:    c.Commit.Message,
		})
	}
	return commits, nil
}

// FetchRecord returns the raw JSON of a record file from the repository.
func (g *GitHub) FetchRecord(ctx context.Context, id string) ([]byte, error) {
	path, err := RecordPath(id)
	if err != nil {
		return nil, err
	}
	branch := g.cfg.Branch
	if branch == "" {
		branch = "main"
	}
	u := fmt.Sprintf("%s/%s/%s/%s", g.cfg.RawURL, g.cfg.Repo, branch, path)

	body, err := getWithRetry(ctx, g.client, u, nil, g.cfg.MaxElapsed, g.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", id, err)
	}
	return body, nil
}
