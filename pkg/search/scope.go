package search

import (
	"regexp"
	"strings"

	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

// mentionPattern matches @name and @"name with spaces".
var (
	mentionPattern    = regexp.MustCompile(`@(?:"([^"]+)"|(\S+))`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Scope is the resolved file-id allowlist for one query. A nil
// FileIDs means unrestricted; a non-nil empty slice means the filter
// matched nothing and the search must return no results.
type Scope struct {
	FileIDs []string
	Query   string
}

// ResolveScope strips @mentions from the query, resolves them and
// the caller's folder ids to file ids, and intersects the two
// sources when both are present.
func ResolveScope(st *store.Store, query string, folderIDs []string) (Scope, error) {
	var mentioned []string
	for _, m := range mentionPattern.FindAllStringSubmatch(query, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if name != "" {
			mentioned = append(mentioned, name)
		}
	}

	cleaned := query
	var fromMentions []string
	if len(mentioned) > 0 {
		cleaned = mentionPattern.ReplaceAllString(query, "")
		cleaned = strings.TrimSpace(whitespacePattern.ReplaceAllString(cleaned, " "))

		fromMentions = []string{}
		for _, name := range mentioned {
			files, err := st.FindFilesByName(name)
			if err != nil {
				return Scope{}, err
			}
			for _, f := range files {
				fromMentions = append(fromMentions, f.ID)
			}
		}
	}

	var fromFolders []string
	if len(folderIDs) > 0 {
		fromFolders = []string{}
		for _, folderID := range folderIDs {
			files, err := st.GetFilesInFolder(folderID)
			if err != nil {
				return Scope{}, err
			}
			for _, f := range files {
				fromFolders = append(fromFolders, f.ID)
			}
		}
	}

	scope := Scope{Query: cleaned}
	switch {
	case fromMentions != nil && fromFolders != nil:
		scope.FileIDs = intersect(fromMentions, fromFolders)
	case fromMentions != nil:
		scope.FileIDs = fromMentions
	case fromFolders != nil:
		scope.FileIDs = fromFolders
	}
	return scope, nil
}

// Empty reports whether a filter was specified but matched nothing.
func (s Scope) Empty() bool {
	return s.FileIDs != nil && len(s.FileIDs) == 0
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := []string{}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
