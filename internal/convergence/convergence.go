// Package convergence is a test helper: it renders a Registry into a
// deterministic textual snapshot and diffs two snapshots with
// github.com/sergi/go-diff/diffmatchpatch, so integration tests can
// assert that two federated servers have converged to identical state
// after a burst or a netsplit/rejoin, with a readable diff on failure
// instead of a deep-equal dump.
package convergence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/robustirc/ircfed/internal/registry"
)

// Snapshot renders reg as a sorted, line-oriented string: one line per
// user, one line per channel plus one per member. Two registries that
// produce equal snapshots are considered converged.
func Snapshot(reg *registry.Registry) string {
	var lines []string
	for _, u := range reg.Users() {
		lines = append(lines, fmt.Sprintf("USER %s %s@%s server=%s away=%q op=%v",
			u.Nick, u.Username, u.Host, u.Server, u.AwayMsg, u.Operator))
	}
	for _, c := range reg.Channels() {
		names, _ := reg.Names(c.Name)
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("CHAN %s topic=%q members=%s",
			c.Name, c.Topic, strings.Join(names, ",")))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Diff returns a human-readable diff between two registries' snapshots,
// and whether they are identical.
func Diff(a, b *registry.Registry) (diff string, equal bool) {
	sa, sb := Snapshot(a), Snapshot(b)
	if sa == sb {
		return "", true
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(sa, sb, false)
	return dmp.DiffPrettyText(diffs), false
}
