// Package temporal extracts UTC time ranges from question text. An
// explicitly supplied range always wins over anything inferred; absence
// of temporal cues yields an unbounded range, which is valid.
package temporal

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chronoquery/chronoquery/pkg/gliner"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// NERClient is the span extractor surface the extractor needs. Satisfied
// by *gliner.Client; nil disables the NER tier.
type NERClient interface {
	ExtractEntities(text string, labels []string) ([]gliner.Entity, error)
}

// Extractor parses temporal expressions from question text.
type Extractor struct {
	ner              NERClient
	fiscalStartMonth time.Month
	logger           *slog.Logger
}

// NewExtractor creates an extractor. fiscalStartMonth anchors quarter
// parsing; 1 means calendar quarters.
func NewExtractor(ner NERClient, fiscalStartMonth int, logger *slog.Logger) *Extractor {
	if fiscalStartMonth < 1 || fiscalStartMonth > 12 {
		fiscalStartMonth = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		ner:              ner,
		fiscalStartMonth: time.Month(fiscalStartMonth),
		logger:           logger,
	}
}

// Extract returns the time range for a question. An explicit range is
// returned verbatim after validation; otherwise ranges parsed from the
// text (and NER spans, when available) are collapsed into one envelope.
func (e *Extractor) Extract(text string, explicit *types.TimeRange, now time.Time) (types.TimeRange, error) {
	if explicit != nil {
		normalized := normalizeRange(*explicit)
		if err := normalized.Validate(); err != nil {
			return types.TimeRange{}, types.WrapQueryError(types.KindTemporalParse, err, "explicit time range is invalid")
		}
		return normalized, nil
	}

	now = now.UTC()

	// An explicit connector expression describes the whole window; no
	// other cue in the text can widen it.
	if r, ok := parseConnectorRange(text, now, e.fiscalStartMonth); ok {
		return r, nil
	}

	ranges := parseExpressions(text, now, e.fiscalStartMonth)

	if e.ner != nil {
		spans, err := e.ner.ExtractEntities(text, []string{gliner.LabelDate, gliner.LabelTimePeriod})
		if err != nil {
			e.logger.Warn("temporal span extraction failed, using regex only", "error", err)
		} else {
			for _, span := range spans {
				ranges = append(ranges, parseExpressions(span.Text, now, e.fiscalStartMonth)...)
			}
		}
	}

	if len(ranges) == 0 {
		return types.TimeRange{}, nil
	}

	return collapse(ranges), nil
}

// collapse merges candidate ranges into the widest envelope they span.
func collapse(ranges []types.TimeRange) types.TimeRange {
	var out types.TimeRange
	for _, r := range ranges {
		if r.Start != nil && (out.Start == nil || r.Start.Before(*out.Start)) {
			out.Start = r.Start
		}
		if r.End != nil && (out.End == nil || r.End.After(*out.End)) {
			out.End = r.End
		}
	}
	// Mixed granularities can invert the envelope; swap rather than fail.
	if out.Start != nil && out.End != nil && out.End.Before(*out.Start) {
		out.Start, out.End = out.End, out.Start
	}
	return out
}

func normalizeRange(r types.TimeRange) types.TimeRange {
	var out types.TimeRange
	if r.Start != nil {
		t := r.Start.UTC()
		out.Start = &t
	}
	if r.End != nil {
		t := r.End.UTC()
		out.End = &t
	}
	return out
}

var (
	betweenRe = regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+?)(?:[.?,]|$)`)
	fromToRe  = regexp.MustCompile(`(?i)\bfrom\s+(.+?)\s+(?:to|until|through)\s+(.+?)(?:[.?,]|$)`)
)

// parseConnectorRange handles "between X and Y" and "from X to Y".
func parseConnectorRange(text string, now time.Time, fiscalStart time.Month) (types.TimeRange, bool) {
	for _, re := range []*regexp.Regexp{betweenRe, fromToRe} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		left := parseExpressions(m[1], now, fiscalStart)
		right := parseExpressions(m[2], now, fiscalStart)
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		r := types.TimeRange{Start: collapse(left).Start, End: collapse(right).End}
		if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
			r.Start, r.End = r.End, r.Start
		}
		if r.Start != nil || r.End != nil {
			return r, true
		}
	}
	return types.TimeRange{}, false
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDayYearRe = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)(?:\s+(\d{1,2})(?:st|nd|rd|th)?)?(?:,?\s*(\d{4}))?\b`)
	quarterRe      = regexp.MustCompile(`(?i)\bq([1-4])\s*(?:of\s*)?(\d{4})?\b`)
	wordQuarterRe  = regexp.MustCompile(`(?i)\b(first|second|third|fourth) quarter(?:\s+of)?\s*(\d{4})?\b`)
	bareYearRe     = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	relativeNRe    = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d+)\s+(day|week|month|quarter|year)s?\b`)
	relativeOneRe  = regexp.MustCompile(`(?i)\b(last|past|previous|this)\s+(day|week|month|quarter|year)\b`)
	yesterdayRe    = regexp.MustCompile(`(?i)\byesterday\b`)
	todayRe        = regexp.MustCompile(`(?i)\btoday\b`)
)

// parseExpressions finds every temporal expression in the text and
// returns one candidate range per expression.
func parseExpressions(text string, now time.Time, fiscalStart time.Month) []types.TimeRange {
	var out []types.TimeRange
	claimed := make([]bool, len(text))
	claim := func(loc []int) {
		for i := loc[0]; i < loc[1] && i < len(claimed); i++ {
			claimed[i] = true
		}
	}
	isClaimed := func(loc []int) bool {
		for i := loc[0]; i < loc[1] && i < len(claimed); i++ {
			if claimed[i] {
				return true
			}
		}
		return false
	}

	for _, loc := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		m := isoDateRe.FindStringSubmatch(text[loc[0]:loc[1]])
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		out = append(out, dayRange(year, time.Month(month), day))
		claim(loc)
	}

	for _, loc := range quarterRe.FindAllStringSubmatchIndex(text, -1) {
		if isClaimed(loc) {
			continue
		}
		m := quarterRe.FindStringSubmatch(text[loc[0]:loc[1]])
		q, _ := strconv.Atoi(m[1])
		year := now.Year()
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		}
		out = append(out, quarterRange(year, q, fiscalStart))
		claim(loc)
	}

	for _, loc := range wordQuarterRe.FindAllStringSubmatchIndex(text, -1) {
		if isClaimed(loc) {
			continue
		}
		m := wordQuarterRe.FindStringSubmatch(text[loc[0]:loc[1]])
		q := map[string]int{"first": 1, "second": 2, "third": 3, "fourth": 4}[strings.ToLower(m[1])]
		year := now.Year()
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		}
		out = append(out, quarterRange(year, q, fiscalStart))
		claim(loc)
	}

	for _, loc := range monthDayYearRe.FindAllStringSubmatchIndex(text, -1) {
		if isClaimed(loc) {
			continue
		}
		m := monthDayYearRe.FindStringSubmatch(text[loc[0]:loc[1]])
		month, ok := months[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		// Bare lowercase "may" is almost always the modal verb.
		if m[1] == "may" && m[2] == "" && m[3] == "" {
			continue
		}
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		if m[2] != "" {
			day, _ := strconv.Atoi(m[2])
			out = append(out, dayRange(year, month, day))
		} else {
			out = append(out, monthRange(year, month))
		}
		claim(loc)
	}

	for _, loc := range relativeNRe.FindAllStringSubmatchIndex(text, -1) {
		if isClaimed(loc) {
			continue
		}
		m := relativeNRe.FindStringSubmatch(text[loc[0]:loc[1]])
		n, _ := strconv.Atoi(m[1])
		out = append(out, trailingRange(now, n, strings.ToLower(m[2])))
		claim(loc)
	}

	for _, loc := range relativeOneRe.FindAllStringSubmatchIndex(text, -1) {
		if isClaimed(loc) {
			continue
		}
		m := relativeOneRe.FindStringSubmatch(text[loc[0]:loc[1]])
		qualifier := strings.ToLower(m[1])
		unit := strings.ToLower(m[2])
		if qualifier == "this" {
			out = append(out, currentPeriod(now, unit, fiscalStart))
		} else {
			out = append(out, previousPeriod(now, unit, fiscalStart))
		}
		claim(loc)
	}

	if loc := yesterdayRe.FindStringIndex(text); loc != nil && !isClaimed(loc) {
		y := now.AddDate(0, 0, -1)
		out = append(out, dayRange(y.Year(), y.Month(), y.Day()))
		claim(loc)
	}
	if loc := todayRe.FindStringIndex(text); loc != nil && !isClaimed(loc) {
		out = append(out, dayRange(now.Year(), now.Month(), now.Day()))
		claim(loc)
	}

	for _, loc := range bareYearRe.FindAllStringSubmatchIndex(text, -1) {
		if isClaimed(loc) {
			continue
		}
		year, _ := strconv.Atoi(text[loc[2]:loc[3]])
		out = append(out, yearRange(year))
		claim(loc)
	}

	return out
}

func span(start, end time.Time) types.TimeRange {
	return types.TimeRange{Start: &start, End: &end}
}

func dayRange(year int, month time.Month, day int) types.TimeRange {
	start := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return span(start, start.AddDate(0, 0, 1).Add(-time.Second))
}

func monthRange(year int, month time.Month) types.TimeRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return span(start, start.AddDate(0, 1, 0).Add(-time.Second))
}

func yearRange(year int) types.TimeRange {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return span(start, start.AddDate(1, 0, 0).Add(-time.Second))
}

// quarterRange computes quarter q of the fiscal year labeled by year. A
// fiscal year starting in month m begins in month m of that calendar
// year, so with the default m=1 quarters are calendar quarters.
func quarterRange(year, q int, fiscalStart time.Month) types.TimeRange {
	start := time.Date(year, fiscalStart, 1, 0, 0, 0, 0, time.UTC).AddDate(0, (q-1)*3, 0)
	return span(start, start.AddDate(0, 3, 0).Add(-time.Second))
}

func trailingRange(now time.Time, n int, unit string) types.TimeRange {
	var start time.Time
	switch unit {
	case "day":
		start = now.AddDate(0, 0, -n)
	case "week":
		start = now.AddDate(0, 0, -7*n)
	case "month":
		start = now.AddDate(0, -n, 0)
	case "quarter":
		start = now.AddDate(0, -3*n, 0)
	case "year":
		start = now.AddDate(-n, 0, 0)
	default:
		start = now
	}
	return span(start, now)
}

func currentPeriod(now time.Time, unit string, fiscalStart time.Month) types.TimeRange {
	switch unit {
	case "day":
		return dayRange(now.Year(), now.Month(), now.Day())
	case "week":
		// Weeks start Monday.
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		return span(start, start.AddDate(0, 0, 7).Add(-time.Second))
	case "month":
		return monthRange(now.Year(), now.Month())
	case "quarter":
		year, q := fiscalQuarterOf(now, fiscalStart)
		return quarterRange(year, q, fiscalStart)
	case "year":
		return yearRange(now.Year())
	}
	return span(now, now)
}

func previousPeriod(now time.Time, unit string, fiscalStart time.Month) types.TimeRange {
	switch unit {
	case "day":
		y := now.AddDate(0, 0, -1)
		return dayRange(y.Year(), y.Month(), y.Day())
	case "week":
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset-7)
		return span(start, start.AddDate(0, 0, 7).Add(-time.Second))
	case "month":
		prev := now.AddDate(0, -1, 0)
		return monthRange(prev.Year(), prev.Month())
	case "quarter":
		year, q := fiscalQuarterOf(now.AddDate(0, -3, 0), fiscalStart)
		return quarterRange(year, q, fiscalStart)
	case "year":
		return yearRange(now.Year() - 1)
	}
	return span(now, now)
}

// fiscalQuarterOf returns the fiscal year label and quarter containing t.
func fiscalQuarterOf(t time.Time, fiscalStart time.Month) (int, int) {
	monthsSince := (int(t.Month()) - int(fiscalStart) + 12) % 12
	q := monthsSince/3 + 1
	year := t.Year()
	if int(t.Month()) < int(fiscalStart) {
		year--
	}
	return year, q
}

// Describe renders a range for log lines and error messages.
func Describe(r types.TimeRange) string {
	format := func(t *time.Time) string {
		if t == nil {
			return "open"
		}
		return t.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s]", format(r.Start), format(r.End))
}
