// Package diff aligns two recorded sessions and reports structured
// differences between their event sequences.
package diff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"retrace/internal/event"
	"retrace/internal/session"
)

// Kind classifies a diff record.
type Kind string

const (
	KindAdded   Kind = "added"
	KindRemoved Kind = "removed"
	KindChanged Kind = "changed"
)

// Record is one reported difference. For whole-event differences FieldPath is
// empty; for field-level differences it is a dotted path into the event data
// ("result.temp", "args.items[2]").
type Record struct {
	Kind      Kind   `json:"kind"`
	AEventID  int    `json:"session_a_event_id,omitempty"`
	BEventID  int    `json:"session_b_event_id,omitempty"`
	FieldPath string `json:"field_path,omitempty"`
	Old       any    `json:"old,omitempty"`
	New       any    `json:"new,omitempty"`
	// TextDiff carries a rendered line diff for changed multi-line strings.
	TextDiff string `json:"text_diff,omitempty"`
}

type pair struct {
	a, b event.Event
}

// Diff aligns the two sessions' event sequences and returns an ordered list
// of differences. Alignment pairs the k-th event of each type in A with the
// k-th of the same type in B; events left over after ordinal pairing fall
// back to pairing by equal id, and anything still unmatched is reported as
// added (only in B) or removed (only in A).
//
// The result is deterministic, and Diff(B, A) yields the same records with
// added/removed and old/new swapped.
func Diff(a, b *session.Session) []Record {
	pairs, removed, added := align(a.Timeline(), b.Timeline())

	var records []Record
	for _, p := range pairs {
		records = append(records, diffPair(p)...)
	}
	for _, ev := range removed {
		records = append(records, Record{Kind: KindRemoved, AEventID: ev.ID})
	}
	for _, ev := range added {
		records = append(records, Record{Kind: KindAdded, BEventID: ev.ID})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return recordLess(records[i], records[j])
	})
	return records
}

// align computes the event correspondence between the two sequences.
func align(a, b []event.Event) (pairs []pair, removedA, addedB []event.Event) {
	byTypeA := groupByType(a)
	byTypeB := groupByType(b)

	matchedA := make(map[int]bool)
	matchedB := make(map[int]bool)

	for _, t := range event.Types {
		la, lb := byTypeA[t], byTypeB[t]
		n := len(la)
		if len(lb) < n {
			n = len(lb)
		}
		for k := 0; k < n; k++ {
			pairs = append(pairs, pair{a: la[k], b: lb[k]})
			matchedA[la[k].ID] = true
			matchedB[lb[k].ID] = true
		}
	}

	// Positional fallback: events of diverging per-type counts may still
	// correspond slot-for-slot, so pair leftovers that share an id.
	leftoverB := make(map[int]event.Event)
	for _, ev := range b {
		if !matchedB[ev.ID] {
			leftoverB[ev.ID] = ev
		}
	}
	for _, ev := range a {
		if matchedA[ev.ID] {
			continue
		}
		if other, ok := leftoverB[ev.ID]; ok {
			pairs = append(pairs, pair{a: ev, b: other})
			matchedA[ev.ID] = true
			matchedB[other.ID] = true
		}
	}

	for _, ev := range a {
		if !matchedA[ev.ID] {
			removedA = append(removedA, ev)
		}
	}
	for _, ev := range b {
		if !matchedB[ev.ID] {
			addedB = append(addedB, ev)
		}
	}
	return pairs, removedA, addedB
}

func groupByType(events []event.Event) map[event.Type][]event.Event {
	out := make(map[event.Type][]event.Event)
	for _, ev := range events {
		out[ev.Type] = append(out[ev.Type], ev)
	}
	return out
}

// diffPair produces the field-level records for one aligned pair.
func diffPair(p pair) []Record {
	if p.a.Type != p.b.Type {
		return []Record{{
			Kind:      KindChanged,
			AEventID:  p.a.ID,
			BEventID:  p.b.ID,
			FieldPath: "type",
			Old:       string(p.a.Type),
			New:       string(p.b.Type),
		}}
	}
	av, bv := canonicalData(p.a), canonicalData(p.b)
	var records []Record
	walk("", av, bv, p.a.ID, p.b.ID, &records)
	return records
}

// canonicalData normalizes an event payload to generic JSON values so that
// in-memory and round-tripped sessions diff identically.
func canonicalData(ev event.Event) any {
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func walk(path string, a, b any, aID, bID int, out *[]Record) {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		keys := make([]string, 0, len(am)+len(bm))
		seen := make(map[string]bool)
		for k := range am {
			keys = append(keys, k)
			seen[k] = true
		}
		for k := range bm {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			av, inA := am[k]
			bv, inB := bm[k]
			child := joinPath(path, k)
			switch {
			case !inA:
				*out = append(*out, Record{Kind: KindAdded, AEventID: aID, BEventID: bID, FieldPath: child, New: bv})
			case !inB:
				*out = append(*out, Record{Kind: KindRemoved, AEventID: aID, BEventID: bID, FieldPath: child, Old: av})
			default:
				walk(child, av, bv, aID, bID, out)
			}
		}
		return
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice {
		n := len(as)
		if len(bs) < n {
			n = len(bs)
		}
		for i := 0; i < n; i++ {
			walk(fmt.Sprintf("%s[%d]", path, i), as[i], bs[i], aID, bID, out)
		}
		for i := n; i < len(as); i++ {
			*out = append(*out, Record{Kind: KindRemoved, AEventID: aID, BEventID: bID, FieldPath: fmt.Sprintf("%s[%d]", path, i), Old: as[i]})
		}
		for i := n; i < len(bs); i++ {
			*out = append(*out, Record{Kind: KindAdded, AEventID: aID, BEventID: bID, FieldPath: fmt.Sprintf("%s[%d]", path, i), New: bs[i]})
		}
		return
	}

	if equalScalar(a, b) {
		return
	}

	rec := Record{Kind: KindChanged, AEventID: aID, BEventID: bID, FieldPath: path, Old: a, New: b}
	if oldStr, ok := a.(string); ok {
		if newStr, ok := b.(string); ok {
			if strings.Contains(oldStr, "\n") || strings.Contains(newStr, "\n") {
				rec.TextDiff = renderTextDiff(oldStr, newStr)
			}
		}
	}
	*out = append(*out, rec)
}

func equalScalar(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return a == b
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func recordLess(a, b Record) bool {
	ka, kb := orderKey(a), orderKey(b)
	if ka != kb {
		return ka < kb
	}
	if a.FieldPath != b.FieldPath {
		return a.FieldPath < b.FieldPath
	}
	return a.Kind < b.Kind
}

// orderKey is symmetric in the two id labels so that swapped runs sort their
// corresponding records identically.
func orderKey(r Record) int {
	if r.AEventID == 0 {
		return r.BEventID
	}
	if r.BEventID == 0 {
		return r.AEventID
	}
	if r.AEventID > r.BEventID {
		return r.AEventID
	}
	return r.BEventID
}
