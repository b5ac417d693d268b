package gmail

import (
	"strings"

	"github.com/bnema/gmail-fleet/internal/domain"
)

// BuildSearchQuery turns one raw search term into a Gmail query. A term may
// carry ";"-separated subterms, each matched against sender or subject; the
// scope suffix (for example "in:inbox" or "is:unread") narrows the search.
func BuildSearchQuery(term string, scope string) string {
	subterms := domain.SplitTerms(term, ";")
	if len(subterms) == 0 {
		return scope
	}

	clauses := make([]string, 0, len(subterms))
	for _, sub := range subterms {
		quoted := `"` + strings.ReplaceAll(sub, `"`, "") + `"`
		clauses = append(clauses, "from:"+quoted+" OR subject:"+quoted)
	}

	query := "(" + strings.Join(clauses, " OR ") + ")"
	if scope != "" {
		query += " " + scope
	}
	return query
}
