// Package ingest keeps the local CVE mirror in step with the upstream feed:
// it diffs the feed's commit log against the stored watermark, fetches and
// normalizes the records those commits touched, and reconciles them into
// storage keyed by record identity.
package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	newLine     = regexp.MustCompile(`(?m)^\s*-?\s*(\S+)\s+new CVEs:(.*)$`)
	updatedLine = regexp.MustCompile(`(?m)^\s*-?\s*(\S+)\s+updated CVEs:(.*)$`)
)

// ParseCommitMessage extracts the new and updated record identities listed
// in a feed commit message. Lines that are absent contribute nothing. If a
// present line is malformed or its list disagrees with its stated count, the
// whole commit contributes nothing and an error describes why.
func ParseCommitMessage(msg string) (newIDs, updatedIDs []string, err error) {
	newIDs, err = parseLine(newLine, msg, "new")
	if err != nil {
		return nil, nil, err
	}
	updatedIDs, err = parseLine(updatedLine, msg, "updated")
	if err != nil {
		return nil, nil, err
	}
	return newIDs, updatedIDs, nil
}

func parseLine(re *regexp.Regexp, msg, kind string) ([]string, error) {
	m := re.FindStringSubmatch(msg)
	if m == nil {
		return nil, nil
	}

	count, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("malformed %s CVEs count %q", kind, m[1])
	}

	ids := []string{}
	for _, part := range strings.Split(m[2], ",") {
		id := strings.TrimSpace(part)
		if strings.HasPrefix(id, "CVE-") {
			ids = append(ids, id)
		}
	}

	if len(ids) != count {
		return nil, fmt.Errorf("%s CVEs line lists %d ids but states %d", kind, len(ids), count)
	}
	return ids, nil
}
