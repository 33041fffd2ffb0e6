package processing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/civic-radar/internal/processing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "garbage", input: "!!! ... ???", want: ""},
		{name: "punctuation", input: "Hello!!!   мир", want: "hello мир"},
		{name: "collapse whitespace", input: "foo\n\nbar\t baz", want: "foo bar baz"},
		{name: "remove urls", input: "Check https://example.com/a?b=c for info", want: "check for info"},
		{name: "strip markup", input: "<p>Jalan <b>rusak</b></p>&nbsp;parah&amp;", want: "jalan rusak parah"},
		{name: "numeric entity", input: "banjir&#8212;lagi", want: "banjir lagi"},
		{name: "case fold", input: "JALAN Rusak", want: "jalan rusak"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.Normalize(tt.input))
		})
	}
}

func TestContentHashIsDeterministic(t *testing.T) {
	a := processing.ContentHash(processing.Normalize("Jalan   rusak di Desa A"))
	b := processing.ContentHash(processing.Normalize("jalan rusak di desa a"))
	require.Len(t, a, 64)
	require.Equal(t, a, b)
	require.Equal(t, a, processing.ContentHash("jalan rusak di desa a"))
	require.NotEqual(t, a, processing.ContentHash("jalan rusak di desa b"))
}

func TestKeywordExtractor(t *testing.T) {
	ex := processing.NewKeywordExtractor(nil, 3, nil)
	got := ex.Extract("Banjir banjir banjir di jalan raya, jalan rusak dan yang lain tidak")
	require.Equal(t, []string{"banjir", "jalan", "lain"}, got)

	require.Nil(t, ex.Extract(""))
	require.Nil(t, ex.Extract("dan di ke"))
}

func TestKeywordExtractorUsesDetectedLanguage(t *testing.T) {
	sw := processing.NewStopwords(map[string][]string{
		"id": {"yang"},
		"en": {"flood"},
	})
	detectID := func(string) string { return "id" }

	ex := processing.NewKeywordExtractor(sw, 5, detectID)
	require.Equal(t, []string{"flood"}, ex.Extract("flood yang"))

	undetected := processing.NewKeywordExtractor(sw, 5, func(string) string { return "" })
	require.Nil(t, undetected.Extract("flood yang"))
}

func TestKeywordExtractorIgnoresURLWords(t *testing.T) {
	ex := processing.NewKeywordExtractor(nil, 5, nil)
	got := ex.Extract("Sampah menumpuk https://example.com/sampah-pasar pasar sampah")
	require.ElementsMatch(t, []string{"sampah", "menumpuk", "pasar"}, got)
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "no urls", input: "Hello world", want: nil},
		{name: "single url", input: "Check https://example.com for more", want: []string{"https://example.com"}},
		{name: "multiple urls", input: "Go to https://example.com or http://test.org now", want: []string{"https://example.com", "http://test.org"}},
		{name: "duplicate urls", input: "https://example.com and https://example.com again", want: []string{"https://example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.ExtractURLs(tt.input))
		})
	}
}

func TestGenerateTitleFromText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxWords int
		want     string
	}{
		{name: "empty", text: "", maxWords: 10, want: ""},
		{name: "single sentence", text: "Jalan rusak di desa A.", maxWords: 10, want: "Jalan rusak di desa A"},
		{name: "multiple sentences", text: "Banjir lagi! Air setinggi lutut.", maxWords: 10, want: "Banjir lagi"},
		{name: "long text truncated", text: "Warga mengeluhkan tumpukan sampah di pasar induk kota", maxWords: 4, want: "Warga mengeluhkan tumpukan sampah..."},
		{name: "markup removed", text: "<b>Listrik padam</b> sejak pagi", maxWords: 0, want: "Listrik padam sejak pagi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.GenerateTitleFromText(tt.text, tt.maxWords))
		})
	}
}
