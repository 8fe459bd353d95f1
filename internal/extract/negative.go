package extract

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/bureau-cli/internal/model"
)

// NegativeItems records one item per keyword match of every category. The
// description is the match plus ContextWindow bytes either side.
func NegativeItems(text string, ps *PatternSet) []model.NegativeItem {
	type hit struct {
		pos  int
		item model.NegativeItem
	}
	var hits []hit
	for _, rule := range ps.Negative {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{
				pos: loc[0],
				item: model.NegativeItem{
					Category:        rule.Category,
					Description:     contextWindow(text, loc[0], loc[1], ps.ContextWindow),
					Severity:        rule.Severity,
					DisputeEligible: true,
				},
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	items := make([]model.NegativeItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, h.item)
	}
	return items
}

func contextWindow(text string, start, end, width int) string {
	lo := max(0, start-width)
	hi := min(len(text), end+width)
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.Join(strings.Fields(text[lo:hi]), " ")
}
