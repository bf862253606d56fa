package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/cvefeed-backend/internal/upstream"
	"github.com/ortelius/cvefeed-backend/model"
)

// CommitLog pages through the upstream commit log, newest first. Pages are 1-based.
type CommitLog interface {
	Commits(ctx context.Context, page, perPage int) ([]upstream.Commit, error)
}

// ScanResult is the classified output of a commit scan.
type ScanResult struct {
	CommitsScanned int
	Newest         time.Time // author time of the newest commit after the watermark
	ToInsert       []string
	ToUpdate       []string
	Skipped        []model.SkippedCommit
}

// Scanner collects the record identities touched by commits newer than a watermark.
type Scanner struct {
	log      CommitLog
	perPage  int
	maxPages int
	author   string
	logger   *zap.Logger
}

// NewScanner returns a scanner. An empty author accepts every commit.
func NewScanner(log CommitLog, perPage, maxPages int, author string, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{log: log, perPage: perPage, maxPages: maxPages, author: author, logger: logger}
}

// Scan pages the log until a page has no commit newer than since, a page
// comes back short, or the page ceiling is reached. A commit log error is
// fatal; malformed commit messages are recorded and skipped.
func (s *Scanner) Scan(ctx context.Context, since time.Time) (ScanResult, error) {
	var result ScanResult
	inserts := map[string]bool{}
	updates := map[string]bool{}

	for page := 1; page <= s.maxPages; page++ {
		commits, err := s.log.Commits(ctx, page, s.perPage)
		if err != nil {
			return ScanResult{}, fmt.Errorf("failed to read commit log: %w", err)
		}

		qualifying := 0
		for _, c := range commits {
			if !c.AuthoredAt.After(since) {
				continue
			}
			qualifying++
			if c.AuthoredAt.After(result.Newest) {
				result.Newest = c.AuthoredAt
			}
			if s.author != "" && c.AuthorName != s.author {
				continue
			}
			result.CommitsScanned++

			newIDs, updatedIDs, err := ParseCommitMessage(c.Message)
			if err != nil {
				s.logger.Warn("Skipping unclassifiable commit", zap.String("sha", c.SHA), zap.Error(err))
				result.Skipped = append(result.Skipped, model.SkippedCommit{SHA: c.SHA, Reason: err.Error()})
				continue
			}
			for _, id := range newIDs {
				inserts[id] = true
			}
			for _, id := range updatedIDs {
				updates[id] = true
			}
		}

		if len(commits) == 0 || qualifying == 0 || len(commits) < s.perPage {
			break
		}
		if page == s.maxPages {
			s.logger.Warn("Commit scan reached page ceiling", zap.Int("pages", s.maxPages))
		}
	}

	result.ToInsert = sortedKeys(inserts)
	// An identity listed as both new and updated is handled once, as an insert;
	// inserts upsert by identity so nothing is lost.
	for id := range inserts {
		delete(updates, id)
	}
	result.ToUpdate = sortedKeys(updates)
	return result, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
