package devswarm

import (
	"regexp"
	"strconv"
)

// Dependency-reference patterns scanned from issue bodies (§4.4 step 1):
// unchecked task-list items `[ ] #N`, checked items `[x] #N`, and phrases
// "blocked by #N" / "depends on #N" / "requires #N" / "waiting on/for #N"
// (all case-insensitive).
var (
	uncheckedTaskItem = regexp.MustCompile(`(?i)\[\s\]\s*#(\d+)`)
	checkedTaskItem   = regexp.MustCompile(`(?i)\[[xX]\]\s*#(\d+)`)
	blockedPhrase     = regexp.MustCompile(`(?i)blocked by #(\d+)`)
	dependsPhrase     = regexp.MustCompile(`(?i)depends on #(\d+)`)
	requiresPhrase    = regexp.MustCompile(`(?i)requires #(\d+)`)
	waitingPhrase     = regexp.MustCompile(`(?i)waiting (?:on|for) #(\d+)`)
)

// issueReferences is the parsed result of scanning one issue body: the
// issue numbers referenced as unresolved blockers, and those referenced as
// resolved (checked) blockers.
type issueReferences struct {
	Blocking []int
	Resolved []int
}

// parseIssueDependencies scans an issue body for dependency references.
func parseIssueDependencies(body string) issueReferences {
	var refs issueReferences

	seen := map[int]bool{}
	addBlocking := func(matches [][]string) {
		for _, m := range matches {
			n, err := strconv.Atoi(m[1])
			if err != nil || seen[n] {
				continue
			}
			seen[n] = true
			refs.Blocking = append(refs.Blocking, n)
		}
	}

	addBlocking(uncheckedTaskItem.FindAllStringSubmatch(body, -1))
	addBlocking(blockedPhrase.FindAllStringSubmatch(body, -1))
	addBlocking(dependsPhrase.FindAllStringSubmatch(body, -1))
	addBlocking(requiresPhrase.FindAllStringSubmatch(body, -1))
	addBlocking(waitingPhrase.FindAllStringSubmatch(body, -1))

	for _, m := range checkedTaskItem.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		refs.Resolved = append(refs.Resolved, n)
	}

	return refs
}
