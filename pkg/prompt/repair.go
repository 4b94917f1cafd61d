package prompt

import (
	"sort"

	"github.com/ravik/senna/internal/observability"
	"github.com/ravik/senna/pkg/session"
)

// repairWindow takes the recent window starting at index start of history
// and returns the history indexes to include, repaired so that tool
// messages always travel with their originating assistant message.
//
// Two passes:
//
//  1. Leading orphan: while the window's first message is a tool message,
//     look at its immediate predecessor in full history. A tool-calling
//     assistant predecessor is pulled in (window grows backward); anything
//     else means the tool message is orphaned and gets dropped.
//
//  2. Trailing gap: for every tool-calling assistant in the window, diff
//     its call ids against the tool messages already included; missing
//     results are spliced in from the run of consecutive tool messages
//     following the assistant in full history.
//
// Never fails: at worst orphaned tool messages are dropped.
func repairWindow(history []session.Message, start int) []int {
	n := len(history)
	if start < 0 {
		start = 0
	}
	if start >= n {
		return nil
	}

	lo := start
	for lo < n && history[lo].Role == session.RoleTool {
		if lo == 0 {
			// No predecessor exists; the orphan cannot be paired.
			observability.RecordOrphanDropped()
			lo++
			continue
		}
		if history[lo-1].HasToolCalls() {
			lo--
			observability.RecordPairRepaired()
		} else {
			observability.RecordOrphanDropped()
			lo++
		}
	}

	included := make(map[int]bool, n-lo)
	for i := lo; i < n; i++ {
		included[i] = true
	}

	for i := lo; i < n; i++ {
		if !history[i].HasToolCalls() {
			continue
		}

		present := make(map[string]bool)
		for j := range included {
			if history[j].Role == session.RoleTool && history[j].ToolCallID != "" {
				present[history[j].ToolCallID] = true
			}
		}

		for _, tc := range history[i].ToolCalls {
			if present[tc.ID] {
				continue
			}
			// The result, if it exists, sits in the run of consecutive
			// tool messages right after the assistant.
			for j := i + 1; j < n && history[j].Role == session.RoleTool; j++ {
				if history[j].ToolCallID == tc.ID {
					if !included[j] {
						included[j] = true
						observability.RecordPairRepaired()
					}
					break
				}
			}
		}
	}

	indexes := make([]int, 0, len(included))
	for i := range included {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	return indexes
}
