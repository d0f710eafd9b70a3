package classifier

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/docrouter/backend/internal/category"
)

const (
	keywordConfidenceCap = 0.8
	noMatchConfidence    = 0.1
	maxReportedTerms     = 5
)

// vocabulary lists the strong and supporting terms of each category. Generic
// document words shared by every category ("data", "file", "record") are not
// listed. A term may belong to more than one category and counts for each.
var vocabulary = map[category.Category][]string{
	category.Legal: {
		"agreement", "contract", "terms", "conditions", "liability", "legal", "law",
		"compliance", "regulation", "statute", "court", "attorney", "lawyer", "litigation",
		"copyright", "trademark", "patent", "license", "warranty", "disclaimer",
		"jurisdiction", "governing law", "binding", "enforceable", "breach",
		"policy", "procedure", "guideline", "standard", "requirement", "mandatory",
		"obligation", "responsibility", "duty", "right", "entitlement", "authority",
	},
	category.Technical: {
		"api", "endpoint", "function", "method", "class", "interface", "protocol",
		"algorithm", "implementation", "architecture", "system", "software", "code",
		"programming", "development", "engineering", "technical", "specification",
		"documentation", "tutorial", "guide", "reference", "sdk", "framework",
		"configuration", "setup", "installation", "deployment", "integration",
		"testing", "debugging", "optimization", "performance", "security",
	},
	category.Financial: {
		"budget", "cost", "price", "revenue", "income", "expense", "profit", "loss",
		"financial", "monetary", "currency", "dollar", "euro", "payment", "invoice",
		"accounting", "bookkeeping", "audit", "tax", "taxation", "investment",
		"portfolio", "asset", "liability", "equity", "debt", "credit", "loan",
		"report", "statement", "analysis", "forecast", "projection", "planning",
		"allocation", "distribution", "funding", "capital", "finance",
	},
	category.HRDocs: {
		"employee", "staff", "personnel", "human resources", "hr", "workforce",
		"benefits", "compensation", "salary", "wage", "payroll", "hiring", "recruitment",
		"training", "development", "performance", "review", "evaluation", "promotion",
		"termination", "resignation", "leave", "vacation", "sick", "policy", "handbook",
		"workplace", "office", "department", "team", "management", "supervisor",
		"director", "manager", "executive", "leadership", "culture", "environment",
	},
	category.General: {
		"meeting", "notes", "minutes", "agenda", "schedule", "calendar", "event",
		"announcement", "newsletter", "update", "communication", "correspondence",
		"project", "task", "assignment", "deadline", "milestone", "objective", "goal",
	},
}

type keywordPattern struct {
	term string
	re   *regexp.Regexp
}

// Keyword scores text against fixed per-category vocabularies. It is a pure
// function of its input and safe for concurrent use.
type Keyword struct {
	patterns map[category.Category][]keywordPattern
}

func NewKeyword() *Keyword {
	k := &Keyword{patterns: make(map[category.Category][]keywordPattern, len(vocabulary))}
	for cat, terms := range vocabulary {
		seen := make(map[string]bool, len(terms))
		for _, term := range terms {
			if seen[term] {
				continue
			}
			seen[term] = true
			k.patterns[cat] = append(k.patterns[cat], keywordPattern{
				term: term,
				re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`),
			})
		}
	}
	return k
}

// Classify never returns an error.
func (k *Keyword) Classify(_ context.Context, text string) (Result, error) {
	return k.classify(text), nil
}

func (k *Keyword) classify(text string) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Category:       category.General,
				Confidence:     noMatchConfidence,
				Reasoning:      fmt.Sprintf("keyword classification failed: %v", r),
				ProcessingTime: time.Since(start),
				Classifier:     NameKeyword,
			}
		}
	}()

	var (
		best      category.Category
		bestScore int
		bestTerms []string
	)
	for _, cat := range category.All() {
		score, terms := k.score(cat, text)
		if score > bestScore {
			best, bestScore, bestTerms = cat, score, terms
		}
	}

	if bestScore == 0 {
		return Result{
			Category:       category.General,
			Confidence:     noMatchConfidence,
			Reasoning:      "no keywords matched",
			ProcessingTime: time.Since(start),
			Classifier:     NameKeyword,
		}
	}

	words := float64(len(strings.Fields(text)))
	confidence := math.Min(keywordConfidenceCap, float64(bestScore)/math.Max(0.01*words, 1))

	if len(bestTerms) > maxReportedTerms {
		bestTerms = bestTerms[:maxReportedTerms]
	}

	return Result{
		Category:       best,
		Confidence:     confidence,
		Reasoning:      fmt.Sprintf("%d keyword matches for %s: %s", bestScore, best, strings.Join(bestTerms, ", ")),
		ProcessingTime: time.Since(start),
		Classifier:     NameKeyword,
	}
}

func (k *Keyword) score(cat category.Category, text string) (int, []string) {
	total := 0
	var terms []string
	for _, p := range k.patterns[cat] {
		n := len(p.re.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		total += n
		terms = append(terms, fmt.Sprintf("%s(%d)", p.term, n))
	}
	return total, terms
}
