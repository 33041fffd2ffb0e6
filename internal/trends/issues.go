package trends

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DeafMist/civic-radar/internal/models"
)

const maxIssueKeywords = 4

// DetectorConfig holds the emerging-issue thresholds and lookup tables.
type DetectorConfig struct {
	VelocityThreshold float64
	MinimumIssueSize  int
	UrgentThreshold   int
	// Departments maps a lower-case keyword or phrase to a department name.
	Departments       map[string]string
	DefaultDepartment string
	// CategoryLabels maps a classifier category to its display label.
	CategoryLabels map[string]string
}

// IssueDetector groups urgent items by leading keyword.
type IssueDetector struct {
	cfg      DetectorConfig
	keywords Keywords
	titler   cases.Caser
}

// NewIssueDetector returns a detector for cfg.
func NewIssueDetector(cfg DetectorConfig, keywords Keywords) *IssueDetector {
	return &IssueDetector{cfg: cfg, keywords: keywords, titler: cases.Title(language.Indonesian)}
}

type issueGroup struct {
	lead      string
	items     []models.ContentItem
	keywords  [][]string
	urgencies []int
}

// DetectIssues returns an issue for every leading-keyword group of urgent
// items whose velocity or size reaches its threshold, sorted by velocity
// descending then title.
func (d *IssueDetector) DetectIssues(items []models.ContentItem, now time.Time) []models.EmergingIssue {
	groups := make(map[string]*issueGroup)
	var order []string
	for _, item := range sortByCreated(items) {
		if item.UrgencyLevel < d.cfg.UrgentThreshold {
			continue
		}
		kws := d.keywords.For(item)
		if len(kws) == 0 {
			continue
		}
		g, ok := groups[kws[0]]
		if !ok {
			g = &issueGroup{lead: kws[0]}
			groups[kws[0]] = g
			order = append(order, kws[0])
		}
		g.items = append(g.items, item)
		g.keywords = append(g.keywords, kws)
		g.urgencies = append(g.urgencies, item.UrgencyLevel)
	}

	var issues []models.EmergingIssue
	for _, lead := range order {
		g := groups[lead]
		size := len(g.items)
		velocity := Velocity(g.items, now)
		if velocity < d.cfg.VelocityThreshold && size < d.cfg.MinimumIssueSize {
			continue
		}

		earliest := g.items[0]
		issues = append(issues, models.EmergingIssue{
			Title:               d.title(earliest.Category, lead),
			Category:            earliest.Category,
			Keywords:            groupKeywords(lead, g.keywords),
			Velocity:            velocity,
			MentionCount:        size,
			UrgencyScore:        meanRounded(g.urgencies),
			DepartmentRelevance: d.departments(g),
			Status:              models.IssueActive,
			FirstDetected:       earliest.CreatedAt.UTC(),
			LastConfirmed:       now.UTC(),
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Velocity != issues[j].Velocity {
			return issues[i].Velocity > issues[j].Velocity
		}
		return issues[i].Title < issues[j].Title
	})
	return issues
}

// Velocity is mentions per hour since the earliest item. A group whose
// earliest item is not before now reports its size.
func Velocity(items []models.ContentItem, now time.Time) float64 {
	if len(items) == 0 {
		return 0
	}
	earliest := items[0].CreatedAt
	for _, it := range items[1:] {
		if it.CreatedAt.Before(earliest) {
			earliest = it.CreatedAt
		}
	}
	span := now.Sub(earliest).Hours()
	if span <= 0 {
		return float64(len(items))
	}
	return float64(len(items)) / span
}

func (d *IssueDetector) title(category, lead string) string {
	label, ok := d.cfg.CategoryLabels[category]
	if !ok || label == "" {
		if category == "" {
			label = "Isu"
		} else {
			label = d.titler.String(strings.ReplaceAll(category, "_", " "))
		}
	}
	return fmt.Sprintf("%s terkait %s", label, lead)
}

func (d *IssueDetector) departments(g *issueGroup) []string {
	set := make(map[string]struct{})
	for i, item := range g.items {
		text := item.NormalizedContent
		if text == "" {
			text = strings.ToLower(item.RawContent)
		}
		haystack := text + " " + strings.Join(g.keywords[i], " ")
		for key, dept := range d.cfg.Departments {
			if strings.Contains(haystack, strings.ToLower(key)) {
				set[dept] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return []string{d.cfg.DefaultDepartment}
	}
	out := make([]string, 0, len(set))
	for dept := range set {
		out = append(out, dept)
	}
	sort.Strings(out)
	return out
}

// groupKeywords puts lead first, then the group's other keywords by
// frequency with alphabetical tie-break.
func groupKeywords(lead string, lists [][]string) []string {
	freq := make(map[string]int)
	for _, kws := range lists {
		for _, kw := range kws {
			if kw != lead {
				freq[kw]++
			}
		}
	}
	rest := make([]string, 0, len(freq))
	for kw := range freq {
		rest = append(rest, kw)
	}
	sort.Slice(rest, func(i, j int) bool {
		if freq[rest[i]] != freq[rest[j]] {
			return freq[rest[i]] > freq[rest[j]]
		}
		return rest[i] < rest[j]
	})

	out := append([]string{lead}, rest...)
	if len(out) > maxIssueKeywords {
		out = out[:maxIssueKeywords]
	}
	return out
}

func meanRounded(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(values))))
}

func sortByCreated(items []models.ContentItem) []models.ContentItem {
	out := make([]models.ContentItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
