package processing

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Stopwords maps an ISO 639-1 language code to the words ignored for that
// language. The "" entry applies to every language.
type Stopwords map[string]map[string]struct{}

// NewStopwords builds a Stopwords table from plain word lists.
func NewStopwords(lists map[string][]string) Stopwords {
	sw := make(Stopwords, len(lists))
	for lang, words := range lists {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[Normalize(w)] = struct{}{}
		}
		sw[lang] = set
	}
	return sw
}

// DefaultStopwords covers Indonesian and English function words.
func DefaultStopwords() Stopwords {
	return NewStopwords(map[string][]string{
		"id": {
			"yang", "dengan", "untuk", "pada", "dalam", "tidak", "akan", "juga", "sudah", "atau",
			"oleh", "karena", "saat", "bisa", "telah", "kami", "kita", "mereka", "sebagai", "lebih",
			"para", "tersebut", "hingga", "agar", "masih", "belum", "setelah", "bahwa", "namun",
			"sangat", "harus", "dapat", "hanya", "banyak", "secara", "kepada", "seperti", "antara",
			"adalah", "yaitu", "serta", "bagi", "sejak", "ketika", "tetapi", "sedang", "pernah",
			"kalau", "jika", "maka", "sini", "sana", "begitu", "semua", "setiap", "lagi", "hari",
			"warga", "mohon", "tolong", "sekitar",
		},
		"en": {
			"the", "and", "that", "this", "with", "from", "have", "will", "they", "been", "were",
			"their", "there", "which", "about", "would", "into", "than", "then", "them", "these",
			"those", "what", "when", "where", "while", "your", "more", "some", "such", "also",
			"just", "only", "over", "very", "please", "being",
		},
		"": {"http", "https", "www"},
	})
}

// KeywordExtractor derives fallback keywords when the classifier supplied none.
type KeywordExtractor struct {
	stopwords Stopwords
	limit     int
	minLen    int
	detect    func(string) string
}

// NewKeywordExtractor returns an extractor that keeps at most limit tokens
// longer than three runes. detect may be nil; it returns an ISO 639-1 code or "".
func NewKeywordExtractor(stopwords Stopwords, limit int, detect func(string) string) *KeywordExtractor {
	if stopwords == nil {
		stopwords = DefaultStopwords()
	}
	if limit <= 0 {
		limit = 5
	}
	return &KeywordExtractor{stopwords: stopwords, limit: limit, minLen: 4, detect: detect}
}

// Extract returns the most frequent non-stopword tokens of text, ties broken
// alphabetically.
func (e *KeywordExtractor) Extract(text string) []string {
	clean := Normalize(text)
	if clean == "" {
		return nil
	}
	skip := e.stopwordsFor(clean)

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		if utf8.RuneCountInString(token) < e.minLen {
			continue
		}
		if isSkipped(skip, token) {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}

	pairs := make([]kv, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	max := e.limit
	if max > len(pairs) {
		max = len(pairs)
	}

	keywords := make([]string, 0, max)
	for i := 0; i < max; i++ {
		keywords = append(keywords, pairs[i].word)
	}
	return keywords
}

// stopwordsFor picks the detected language's list plus the shared one; when
// detection fails every list applies.
func (e *KeywordExtractor) stopwordsFor(text string) []map[string]struct{} {
	lang := ""
	if e.detect != nil {
		lang = e.detect(text)
	}
	if set, ok := e.stopwords[lang]; ok && lang != "" {
		return []map[string]struct{}{set, e.stopwords[""]}
	}
	all := make([]map[string]struct{}, 0, len(e.stopwords))
	for _, set := range e.stopwords {
		all = append(all, set)
	}
	return all
}

func isSkipped(sets []map[string]struct{}, token string) bool {
	for _, set := range sets {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}
