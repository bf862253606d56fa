package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ortelius/cvefeed-backend/internal/upstream"
)

type fakeLog struct {
	commits []upstream.Commit
	err     error

	mu    sync.Mutex
	pages []int
}

func (l *fakeLog) Commits(_ context.Context, page, perPage int) ([]upstream.Commit, error) {
	l.mu.Lock()
	l.pages = append(l.pages, page)
	l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	start := (page - 1) * perPage
	if start >= len(l.commits) {
		return []upstream.Commit{}, nil
	}
	end := start + perPage
	if end > len(l.commits) {
		end = len(l.commits)
	}
	return l.commits[start:end], nil
}

type fakeFetcher struct {
	records map[string][]byte
	panics  map[string]bool
	errs    map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) FetchRecord(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	if f.panics[id] {
		panic("corrupt archive")
	}
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	raw, ok := f.records[id]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return raw, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func record(id, datePublic, severity string) []byte {
	return []byte(fmt.Sprintf(`{
		"cveMetadata": {"cveId": %q},
		"containers": {"cna": {
			"datePublic": %q,
			"descriptions": [{"lang": "en", "value": "Issue in %s"}],
			"affected": [{"vendor": "acme", "product": "widget"}],
			"metrics": [{"cvssV3_1": {"baseScore": 7.5, "baseSeverity": %q}}]
		}}
	}`, id, datePublic, id, severity))
}

func commit(sha string, at time.Time, msg string) upstream.Commit {
	return upstream.Commit{SHA: sha, AuthorName: upstream.BotAuthor, AuthoredAt: at, Message: msg}
}

func at(day int, hour int) time.Time {
	return time.Date(2024, time.July, day, hour, 0, 0, 0, time.UTC)
}

var errUnavailable = errors.New("upstream unavailable")
