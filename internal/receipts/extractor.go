// Package receipts holds the pure receipt logic: key naming and the
// label heuristics that turn expense-analysis summary fields into a record.
package receipts

import (
	"regexp"
	"strings"

	"github.com/Lllllllleong/receiptflow/internal/models"
)

type field int

const (
	fieldMerchant field = iota
	fieldTotal
	fieldVAT
	fieldDate
	fieldCount
)

// fieldRule pairs a target field with its label predicate and value cleanup.
type fieldRule struct {
	field   field
	matches func(label string) bool
	clean   func(value string) string
}

var nonAmountChars = regexp.MustCompile(`[^\d.,-]`)

func containsAny(subs ...string) func(string) bool {
	return func(label string) bool {
		for _, s := range subs {
			if strings.Contains(label, s) {
				return true
			}
		}
		return false
	}
}

func equals(s string) func(string) bool {
	return func(label string) bool { return label == s }
}

func either(a, b func(string) bool) func(string) bool {
	return func(label string) bool { return a(label) || b(label) }
}

func cleanAmount(v string) string { return nonAmountChars.ReplaceAllString(v, "") }

// fieldRules is evaluated in order for every summary field, each rule
// independently of the others. Labels are lower-cased before matching.
var fieldRules = []fieldRule{
	{field: fieldMerchant, matches: containsAny("vendor", "merchant", "supplier"), clean: strings.TrimSpace},
	{field: fieldTotal, matches: either(containsAny("total", "amount due"), equals("total")), clean: cleanAmount},
	{field: fieldVAT, matches: containsAny("vat", "tax"), clean: cleanAmount},
	{field: fieldDate, matches: containsAny("date", "issue date"), clean: strings.TrimSpace},
}

// ExtractFields folds every summary field of every document into one
// record. The first matching label with a non-blank value wins per field;
// later matches, including those on later pages, never overwrite it.
func ExtractFields(docs []models.ExpenseDocument) models.ExtractionRecord {
	var raw [fieldCount]string

	for _, doc := range docs {
		for _, sf := range doc.SummaryFields {
			label := strings.ToLower(sf.Label)
			value := strings.TrimSpace(sf.Value)
			if value == "" {
				continue
			}
			for _, rule := range fieldRules {
				if raw[rule.field] == "" && rule.matches(label) {
					raw[rule.field] = value
				}
			}
		}
	}

	var rec models.ExtractionRecord
	for _, rule := range fieldRules {
		v := nullable(rule.clean(raw[rule.field]))
		switch rule.field {
		case fieldMerchant:
			rec.Merchant = v
		case fieldTotal:
			rec.Total = v
		case fieldVAT:
			rec.VAT = v
		case fieldDate:
			rec.Date = v
		}
	}
	return rec
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
