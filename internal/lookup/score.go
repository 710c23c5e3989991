package lookup

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/corpaction-cli/internal/model"
)

var legalSuffixes = regexp.MustCompile(
	`(?i)[\s,]+(LIMITED|LTD\.?|PLC|BERHAD|BHD\.?|INCORPORATED|INC\.?|CORPORATION|CORP\.?|` +
		`COMPANY|CO\.?|LLC|L\.?P\.?|N\.?V\.?|S\.?A\.?|AG|TBK|PTE\.?)\.?$`)

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]+`)

// foldName upper-cases s, strips accents and legal suffixes, and collapses
// punctuation to single spaces.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	n := strings.ToUpper(strings.TrimSpace(folded))
	for {
		n = strings.TrimRight(n, " ,.")
		stripped := legalSuffixes.ReplaceAllString(n, "")
		if stripped == n || stripped == "" {
			break
		}
		n = stripped
	}
	n = nonAlnum.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// similarity returns the normalized Levenshtein similarity of a and b in [0,1].
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, nil)
}

// jaccard returns the word-set overlap of two folded strings.
func jaccard(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Score rates how well query matches sec on a 0-100 scale: the best of the
// identifier edit similarity, the folded-name edit similarity and the
// folded-name word overlap.
func Score(query string, sec *model.Security) int {
	q := strings.ToUpper(strings.TrimSpace(query))
	best := 0.0
	for _, id := range sec.Identifiers {
		best = max(best, similarity(q, strings.ToUpper(id.Value)))
	}
	fq := foldName(query)
	fn := foldName(sec.Name)
	best = max(best, similarity(fq, fn), jaccard(fq, fn))
	return int(best*100 + 0.5)
}

// Suggest ranks securities against query, keeping at most limit entries with
// a score of at least minScore. Ties sort by name, then ID.
func Suggest(query string, secs []model.Security, limit, minScore int) []model.Suggestion {
	out := make([]model.Suggestion, 0, len(secs))
	for i := range secs {
		score := Score(query, &secs[i])
		if score < minScore {
			continue
		}
		out = append(out, model.Suggestion{SecurityID: secs[i].ID, Name: secs[i].Name, Match: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Match != out[j].Match {
			return out[i].Match > out[j].Match
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].SecurityID < out[j].SecurityID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
