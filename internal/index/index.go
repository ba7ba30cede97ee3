// Package index maintains a TF-IDF vector space over memory content and
// answers top-k cosine similarity queries.
//
// Documents are stored as raw term counts; term weights are derived at query
// time from the current document-frequency table. Because weights are never
// cached, rebuilding the index from scratch reproduces incrementally
// maintained state exactly.
package index

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

type document struct {
	terms    map[string]int
	accessed time.Time
}

// Index is an in-memory TF-IDF index. It is a rebuildable projection of
// store content, never the source of truth. Not safe for concurrent use;
// the store serializes access.
type Index struct {
	docs map[string]*document
	df   map[string]int
}

// Match is one query result.
type Match struct {
	ID    string
	Score float64
}

// New returns an empty index.
func New() *Index {
	return &Index{
		docs: make(map[string]*document),
		df:   make(map[string]int),
	}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Has reports whether id is indexed.
func (ix *Index) Has(id string) bool {
	_, ok := ix.docs[id]
	return ok
}

// Add indexes or reindexes a document.
func (ix *Index) Add(id, text string, accessedAt time.Time) {
	if _, ok := ix.docs[id]; ok {
		ix.Remove(id)
	}
	terms := termCounts(Tokenize(text))
	for t := range terms {
		ix.df[t]++
	}
	ix.docs[id] = &document{terms: terms, accessed: accessedAt}
}

// Remove retracts a document. Terms whose document frequency drops to zero
// are purged from the vocabulary.
func (ix *Index) Remove(id string) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	for t := range doc.terms {
		ix.df[t]--
		if ix.df[t] <= 0 {
			delete(ix.df, t)
		}
	}
	delete(ix.docs, id)
}

// Touch updates a document's access time, used for query tie-breaking.
func (ix *Index) Touch(id string, accessedAt time.Time) {
	if doc, ok := ix.docs[id]; ok {
		doc.accessed = accessedAt
	}
}

// VocabularySize returns the number of live terms.
func (ix *Index) VocabularySize() int { return len(ix.df) }

// idf returns ln((N+1)/(df+1)) + 1. The smoothed denominator stays nonzero
// for terms absent from every document, and the +1 shift keeps weights
// strictly positive even for terms present in every document.
func (ix *Index) idf(term string) float64 {
	n := float64(len(ix.docs))
	return math.Log((n+1)/(float64(ix.df[term])+1)) + 1
}

// vector computes the weighted vector and L2 norm for a term-count map
// against the current vocabulary. Terms outside the vocabulary get zero
// weight.
func (ix *Index) vector(counts map[string]int) (map[string]float64, float64) {
	vec := make(map[string]float64, len(counts))
	var sq float64
	for t, c := range counts {
		if _, ok := ix.df[t]; !ok {
			continue
		}
		w := float64(c) * ix.idf(t)
		vec[t] = w
		sq += w * w
	}
	return vec, math.Sqrt(sq)
}

// Query returns up to k documents ordered by descending cosine similarity
// to text. Ties break toward the more recently accessed document, then by
// id for determinism. Documents with an empty vector score 0 and are
// omitted.
func (ix *Index) Query(text string, k int) []Match {
	if k <= 0 || len(ix.docs) == 0 {
		return nil
	}
	qvec, qnorm := ix.vector(termCounts(Tokenize(text)))
	if qnorm == 0 {
		return nil
	}

	type scored struct {
		Match
		accessed time.Time
	}
	var results []scored
	for id, doc := range ix.docs {
		dvec, dnorm := ix.vector(doc.terms)
		if dnorm == 0 {
			continue
		}
		var dot float64
		for t, qw := range qvec {
			if dw, ok := dvec[t]; ok {
				dot += qw * dw
			}
		}
		if dot == 0 {
			continue
		}
		results = append(results, scored{
			Match:    Match{ID: id, Score: dot / (qnorm * dnorm)},
			accessed: doc.accessed,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].accessed.Equal(results[j].accessed) {
			return results[i].accessed.After(results[j].accessed)
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	out := make([]Match, len(results))
	for i, r := range results {
		out[i] = r.Match
	}
	return out
}

// TextSimilarity computes corpus-independent cosine similarity between two
// texts using raw term frequencies. Used for rule condition matching,
// specificity refinement checks and near-duplicate merging, where one side
// is usually not an indexed document.
func TextSimilarity(a, b string) float64 {
	ca := termCounts(Tokenize(a))
	cb := termCounts(Tokenize(b))
	if len(ca) == 0 || len(cb) == 0 {
		return 0
	}
	var dot, sqa, sqb float64
	for t, x := range ca {
		sqa += float64(x * x)
		if y, ok := cb[t]; ok {
			dot += float64(x * y)
		}
	}
	for _, y := range cb {
		sqb += float64(y * y)
	}
	if dot == 0 {
		return 0
	}
	return dot / math.Sqrt(sqa*sqb)
}

// stopWords are excluded from indexing. Trimmed to the words that actually
// show up in conversational stimuli; rare function words just dilute idf.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "may": true, "might": true,
	"must": true, "to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "and": true, "but": true, "or": true, "so": true,
	"not": true, "it": true, "its": true, "this": true, "that": true,
	"these": true, "those": true, "i": true, "me": true, "my": true,
	"we": true, "our": true, "you": true, "your": true, "he": true,
	"she": true, "they": true, "them": true, "their": true, "if": true,
	"then": true, "than": true, "too": true, "very": true, "just": true,
	"about": true, "up": true, "down": true, "out": true, "over": true,
	"please": true,
}

// Tokenize lowercases text and splits it into alphanumeric terms, dropping
// stop words and single-character tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
