// Package category defines the fixed document categories that classification
// and routing operate over.
package category

import "strings"

type Category string

const (
	Legal     Category = "legal"
	Technical Category = "technical"
	Financial Category = "financial"
	HRDocs    Category = "hr_docs"
	General   Category = "general"
)

// declared order is the tie-break order for every scorer in the service.
var declared = []Category{Legal, Technical, Financial, HRDocs, General}

var prototypes = map[Category]string{
	Legal:     "Legal documents, contracts, agreements, terms of service, privacy policies, compliance, regulations, liability, court cases, legal advice",
	Technical: "Technical documentation, API references, code, software architecture, system design, programming, development, technical specifications, troubleshooting",
	Financial: "Financial reports, budgets, invoices, accounting, revenue, expenses, investments, financial analysis, cost management, financial planning",
	HRDocs:    "Human resources, employee policies, job descriptions, training, benefits, performance reviews, workplace policies, personnel management, HR procedures",
	General:   "General information, company news, announcements, meeting notes, project updates, general communications, miscellaneous documents",
}

// All returns the categories in declared order. The slice is a copy.
func All() []Category {
	out := make([]Category, len(declared))
	copy(out, declared)
	return out
}

func (c Category) String() string {
	return string(c)
}

func (c Category) Valid() bool {
	_, ok := prototypes[c]
	return ok
}

// Index reports the declared position of c, or -1.
func (c Category) Index() int {
	for i, d := range declared {
		if d == c {
			return i
		}
	}
	return -1
}

// Parse maps a free-form label to a category. It is case-insensitive and
// accepts "hr" for hr_docs.
func Parse(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "hr" {
		return HRDocs, true
	}
	c := Category(s)
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// Prototype returns the description text whose embedding stands in for the
// category during semantic routing.
func Prototype(c Category) string {
	return prototypes[c]
}

func Strings(cats []Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
