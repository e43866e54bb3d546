package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxRenderSize = 1 * 1024 * 1024

// renderTextDiff produces a compact +/- line rendering for a changed
// multi-line string value.
func renderTextDiff(oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}
	// Skip rendering for very large values; the structural record still
	// carries both sides.
	if len(oldContent) > maxRenderSize || len(newContent) > maxRenderSize {
		return "@@ large value, text diff skipped @@"
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			writeLines(&b, "-", d.Text)
		case diffmatchpatch.DiffInsert:
			writeLines(&b, "+", d.Text)
		case diffmatchpatch.DiffEqual:
			// Equal runs are elided; only their boundaries matter here.
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeLines(b *strings.Builder, marker, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(b, "%s %s\n", marker, line)
	}
}
