// Package linter is the deterministic Prose Linter (spec §4.A): a pure
// function over text with no network or persistence dependency, scoring
// style in the same regex/stat idiom as the teacher pack's AgentScorer
// (ce06593f_dotcommander-cclint), adapted from document-structure scoring to
// prose-craft linting.
package linter

import (
	"math"
	"regexp"
	"strings"
)

// Severity classifies a Defect.
type Severity string

const (
	SeverityHard   Severity = "hard"
	SeverityMedium Severity = "medium"
	SeveritySoft   Severity = "soft"
)

// Defect is one flagged lint violation.
type Defect struct {
	Type     string
	Severity Severity
	Text     string
	Position int
}

// Stats summarizes the defect counts and structural measurements over a pass.
type Stats struct {
	HardDefects           int
	MediumDefects         int
	TricolonCount         int
	KickerDensity         float64
	ParagraphVariance     float64
	FourRequirementsTotal int
}

// QualityMetrics are supplementary sentence-level measurements.
type QualityMetrics struct {
	SentenceLengthStdDev float64
	ShortSentencePct     float64
	FilterWordCount      int
}

// Result is the full output of Lint.
type Result struct {
	Defects        []Defect
	Stats          Stats
	QualityMetrics QualityMetrics
}

// bannedPhrase pairs a compiled regex with the defect type name reported for
// a match.
type bannedPhrase struct {
	name string
	re   *regexp.Regexp
}

var bannedPhrases = []bannedPhrase{
	{"found-reflexive", regexp.MustCompile(`(?i)\bfound (himself|herself|themselves)\b`)},
	{"voice-was", regexp.MustCompile(`(?i)\bvoice was\b`)},
	{"seemed-to", regexp.MustCompile(`(?i)\bseemed to\b`)},
	{"began-to", regexp.MustCompile(`(?i)\bbegan to\b`)},
	{"started-to", regexp.MustCompile(`(?i)\bstarted to\b`)},
	{"standalone-something", regexp.MustCompile(`(?i)\bsomething\b`)},
	{"standalone-somehow", regexp.MustCompile(`(?i)\bsomehow\b`)},
	{"for-a-long-moment", regexp.MustCompile(`(?i)\bfor a long moment\b`)},
	{"meanwhile", regexp.MustCompile(`(?i)\bmeanwhile\b`)},
}

// theWayConnector matches "the way" used as a connector, excluding the
// literal direction idioms the spec carves out.
var theWayConnector = regexp.MustCompile(`(?i)\bthe way\b`)
var theWayExclusions = regexp.MustCompile(`(?i)\bthe way (home|back|out|forward|there|to)\b`)

var dashPattern = regexp.MustCompile(`—|–|---|--`)

var tricolonPattern = regexp.MustCompile(`(?i)\b(\w[\w' -]*), (\w[\w' -]*),? and (\w[\w' -]*)\b`)

var fabricatedPrecision = regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(years?|months?|weeks?|days?|hours?|minutes?|seconds?|miles?|feet|meters?|kilometers?)\b`)
var accordingToSources = regexp.MustCompile(`(?i)\baccording to (documents|records|archives|files|reports)\b`)

type budgetRule struct {
	name string
	re   *regexp.Regexp
	max  int
}

var budgetRules = []budgetRule{
	{"finally", regexp.MustCompile(`(?i)\bfinally\b`), 2},
	{"at-last", regexp.MustCompile(`(?i)\bat last\b`), 1},
	{"his-eyes", regexp.MustCompile(`(?i)\bhis eyes\b`), 3},
	{"her-eyes", regexp.MustCompile(`(?i)\bher eyes\b`), 3},
	{"gaze", regexp.MustCompile(`(?i)\bgaze\b`), 3},
	{"throat-tight", regexp.MustCompile(`(?i)\bthroat tight\b`), 1},
}

var sentenceSplitter = regexp.MustCompile(`[.!?]+\s+`)
var sensoryNouns = regexp.MustCompile(`(?i)\b(smell|scent|sound|taste|texture|touch|warmth|chill|glow|echo|rustle|murmur|aroma|bitterness|sweetness)\b`)

// Lint is the pure entry point: no I/O, no network, deterministic across
// calls with identical input — the property that lets the Micro-Fix Loop and
// its tests reason about it without mocking anything.
func Lint(text string) Result {
	var defects []Defect

	for _, bp := range bannedPhrases {
		for _, loc := range bp.re.FindAllStringIndex(text, -1) {
			defects = append(defects, Defect{Type: bp.name, Severity: SeverityHard, Text: text[loc[0]:loc[1]], Position: loc[0]})
		}
	}

	for _, loc := range theWayConnector.FindAllStringIndex(text, -1) {
		excerpt := text[loc[0]:min(loc[1]+12, len(text))]
		if theWayExclusions.MatchString(excerpt) {
			continue
		}
		defects = append(defects, Defect{Type: "the-way-connector", Severity: SeverityHard, Text: text[loc[0]:loc[1]], Position: loc[0]})
	}

	for _, loc := range dashPattern.FindAllStringIndex(text, -1) {
		defects = append(defects, Defect{Type: "dash", Severity: SeverityHard, Text: text[loc[0]:loc[1]], Position: loc[0]})
	}

	for _, rule := range budgetRules {
		matches := rule.re.FindAllStringIndex(text, -1)
		if len(matches) > rule.max {
			for _, loc := range matches[rule.max:] {
				defects = append(defects, Defect{Type: "budget-" + rule.name, Severity: SeverityMedium, Text: text[loc[0]:loc[1]], Position: loc[0]})
			}
		}
	}

	words := wordCount(text)
	tricolonMatches := tricolonPattern.FindAllStringIndex(text, -1)
	tricolonMax := maxInt(1, words/750)
	if len(tricolonMatches) > tricolonMax {
		for _, loc := range tricolonMatches[tricolonMax:] {
			defects = append(defects, Defect{Type: "tricolon-overuse", Severity: SeverityMedium, Text: text[loc[0]:loc[1]], Position: loc[0]})
		}
	}

	for _, loc := range fabricatedPrecision.FindAllStringIndex(text, -1) {
		defects = append(defects, Defect{Type: "fabricated-precision", Severity: SeveritySoft, Text: text[loc[0]:loc[1]], Position: loc[0]})
	}
	for _, loc := range accordingToSources.FindAllStringIndex(text, -1) {
		defects = append(defects, Defect{Type: "fabricated-precision", Severity: SeveritySoft, Text: text[loc[0]:loc[1]], Position: loc[0]})
	}

	paragraphs := splitParagraphs(text)
	paraVariance := paragraphWordStdDev(paragraphs)
	if len(paragraphs) >= 2 && paraVariance < 15 {
		defects = append(defects, Defect{Type: "paragraph-variance-low", Severity: SeverityMedium})
	}

	kickerDensity := kickerDensity(paragraphs)
	if kickerDensity > 0.30 {
		defects = append(defects, Defect{Type: "kicker-density-high", Severity: SeverityMedium})
	}

	fourReqTotal := fourRequirementsTotal(text)

	hard, medium := 0, 0
	for _, d := range defects {
		switch d.Severity {
		case SeverityHard:
			hard++
		case SeverityMedium:
			medium++
		}
	}

	sentLens := sentenceLengths(text)
	stdDev, shortPct := sentenceStats(sentLens)
	filterWords := countFilterWords(text)

	return Result{
		Defects: defects,
		Stats: Stats{
			HardDefects:           hard,
			MediumDefects:         medium,
			TricolonCount:         len(tricolonMatches),
			KickerDensity:         kickerDensity,
			ParagraphVariance:     paraVariance,
			FourRequirementsTotal: fourReqTotal,
		},
		QualityMetrics: QualityMetrics{
			SentenceLengthStdDev: stdDev,
			ShortSentencePct:     shortPct,
			FilterWordCount:      filterWords,
		},
	}
}

// HardDefects filters a Result's defects down to hard severity, the subset
// the Scorer is told to prefer fixing first (spec §4.D).
func (r Result) HardDefects() []Defect {
	var out []Defect
	for _, d := range r.Defects {
		if d.Severity == SeverityHard {
			out = append(out, d)
		}
	}
	return out
}

// NewHardDefects returns the defects in after that weren't present (by Type)
// in before — used by the Micro-Fix Loop to detect regressions a fix
// introduced (spec §4.F).
func NewHardDefects(before, after Result) []Defect {
	seen := make(map[string]int)
	for _, d := range before.HardDefects() {
		seen[d.Type]++
	}
	var out []Defect
	for _, d := range after.HardDefects() {
		if seen[d.Type] > 0 {
			seen[d.Type]--
			continue
		}
		out = append(out, d)
	}
	return out
}

// NormalizeDashes replaces em/en dashes and double/triple hyphens with the
// spec's ", " substitution, collapsing the resulting double commas.
func NormalizeDashes(text string) string {
	s := dashPattern.ReplaceAllString(text, ", ")
	s = strings.ReplaceAll(s, ",,", ",")
	s = strings.ReplaceAll(s, " ,", ",")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.TrimSpace(text), "\n\n")
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func paragraphWordStdDev(paragraphs []string) float64 {
	if len(paragraphs) == 0 {
		return 0
	}
	counts := make([]float64, len(paragraphs))
	for i, p := range paragraphs {
		counts[i] = float64(wordCount(p))
	}
	return stdDev(counts)
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

var abstractCopula = regexp.MustCompile(`(?i)\b(it|that|this) (was|is) (the|a|an)?\s*(truth|silence|end|beginning|answer|weight|price|cost|way|thing)\b`)

func kickerDensity(paragraphs []string) float64 {
	if len(paragraphs) == 0 {
		return 0
	}
	kickers := 0
	for _, p := range paragraphs {
		sentences := splitSentences(p)
		if len(sentences) < 2 {
			continue
		}
		paraWords := wordCount(p)
		last := sentences[len(sentences)-1]
		lastWords := wordCount(last)
		if paraWords > 30 && lastWords < 10 {
			kickers++
			continue
		}
		if abstractCopula.MatchString(last) {
			kickers++
		}
	}
	return float64(kickers) / float64(len(paragraphs))
}

func splitSentences(text string) []string {
	parts := sentenceSplitter.Split(strings.TrimSpace(text), -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sentenceLengths(text string) []float64 {
	sentences := splitSentences(text)
	lens := make([]float64, len(sentences))
	for i, s := range sentences {
		lens[i] = float64(wordCount(s))
	}
	return lens
}

func sentenceStats(lens []float64) (stdDevOut, shortPct float64) {
	if len(lens) == 0 {
		return 0, 0
	}
	stdDevOut = stdDev(lens)
	short := 0
	for _, l := range lens {
		if l < 8 {
			short++
		}
	}
	shortPct = float64(short) / float64(len(lens))
	return
}

var filterWordPattern = regexp.MustCompile(`(?i)\b(seemed|felt|appeared|looked|noticed|realized|wondered)\b`)

func countFilterWords(text string) int {
	return len(filterWordPattern.FindAllString(text, -1))
}

// fourRequirementsTotal scans every 750-word window (tail <100 words merged
// into the previous window, per spec §4.A) and counts how many windows meet
// at least one of the Four Requirements.
func fourRequirementsTotal(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	const windowSize = 750
	var windows [][]string
	for i := 0; i < len(words); i += windowSize {
		end := min(i+windowSize, len(words))
		windows = append(windows, words[i:end])
	}
	if len(windows) > 1 && len(windows[len(windows)-1]) < 100 {
		last := windows[len(windows)-1]
		windows = windows[:len(windows)-1]
		windows[len(windows)-1] = append(windows[len(windows)-1], last...)
	}

	total := 0
	for _, w := range windows {
		if checkFourRequirements(strings.Join(w, " ")).AnyMet() {
			total++
		}
	}
	return total
}

// FourReqs mirrors review.FourRequirements without importing the review
// package, keeping the linter dependency-free; callers that need the shared
// type adapt it at the boundary.
type FourReqs struct {
	CharacterSpecificThought bool
	PreciseObservation       bool
	MusicalSentence          bool
	ExpectationBreak         bool
}

func (f FourReqs) AnyMet() bool {
	return f.CharacterSpecificThought || f.PreciseObservation || f.MusicalSentence || f.ExpectationBreak
}

var characterThoughtPattern = regexp.MustCompile(`(?i)\b(he|she|they) (thought|wondered|knew|remembered|realized)\b`)

func checkFourRequirements(window string) FourReqs {
	var f FourReqs
	f.CharacterSpecificThought = characterThoughtPattern.MatchString(window)

	for _, sentence := range splitSentences(window) {
		if len(sensoryNouns.FindAllString(sentence, -1)) >= 2 {
			f.PreciseObservation = true
			break
		}
	}

	sentences := splitSentences(window)
	for i := 0; i+1 < len(sentences); i++ {
		lens := []int{wordCount(sentences[i]), wordCount(sentences[i+1])}
		if absInt(lens[0]-lens[1]) >= 15 {
			// crude proxy for "4+ clauses with >=15-word neighbour delta":
			// count commas/semicolons as clause boundaries in the longer one.
			longer := sentences[i]
			if lens[1] > lens[0] {
				longer = sentences[i+1]
			}
			clauses := strings.Count(longer, ",") + strings.Count(longer, ";") + 1
			if clauses >= 4 {
				f.MusicalSentence = true
				break
			}
		}
	}

	for i := 0; i+1 < len(sentences); i++ {
		if wordCount(sentences[i]) > 25 && wordCount(sentences[i+1]) < 10 {
			f.ExpectationBreak = true
			break
		}
	}

	return f
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
