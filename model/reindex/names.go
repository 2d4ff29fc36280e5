package reindex

import (
	"fmt"
	"regexp"
	"strconv"
)

var reindexedRe = regexp.MustCompile(`^(.+)_reindexed_([0-9]+)$`)

// NewIndexName calculates from the name the number of times an index has been
// reindexed to generate the successive name for the index. For example: for an
// index named "twitter", the function returns "twitter_reindexed_1", and for an
// index named "foo_reindexed_3", the function returns "foo_reindexed_4". An
// index that doesn't end with the suffix "_reindexed_{x}" is assumed to never
// have been reindexed.
func NewIndexName(indexName string) (string, error) {
	if indexName == "" {
		return "", fmt.Errorf("missing index name")
	}
	matches := reindexedRe.FindStringSubmatch(indexName)
	if matches == nil {
		return indexName + "_reindexed_1", nil
	}
	number, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_reindexed_%d", matches[1], number+1), nil
}

// SourceNameForIndex undoes the renames applied by NewIndexName, returning
// the name the index had before it was ever reindexed.
func SourceNameForIndex(indexName string) string {
	matches := reindexedRe.FindStringSubmatch(indexName)
	if matches == nil {
		return indexName
	}
	return matches[1]
}
