package residuals

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsedRole is one (role, name, percentage) tuple extracted from legacy
// Column I annotation text.
type ParsedRole struct {
	RoleType   string  `json:"roleType"`
	UserName   string  `json:"userName"`
	Percentage float64 `json:"percentage"`
}

// roleKeywords is the keyword → role rule table used to build the structured
// match patterns. Order matters only for deterministic output.
var roleKeywords = []struct {
	roleType string
	words    []string
}{
	{RoleRep, []string{"agent", "rep", "sales rep"}},
	{RolePartner, []string{"partner"}},
	{RoleSalesManager, []string{"manager", "mgr", "sales manager"}},
	{RoleCompany, []string{"company", "co"}},
	{RoleAssociation, []string{"association", "assoc"}},
}

// inferenceRules decide a role for a bare "<name> <pct>%" match in the loose
// pass. First rule whose test passes wins; rep is the default.
var inferenceRules = []struct {
	roleType string
	test     func(name, context string) bool
}{
	{RoleCompany, func(name, _ string) bool {
		return containsAny(name, "company", "corp", "llc", "inc", "group")
	}},
	{RoleAssociation, func(name, _ string) bool {
		return containsAny(name, "association", "alliance", "network")
	}},
	{RoleSalesManager, func(_, context string) bool {
		return containsAny(context, "manager", "mgr")
	}},
	{RolePartner, func(_, context string) bool {
		return containsAny(context, "partner")
	}},
}

func containsAny(s string, words ...string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

const (
	namePat = `[A-Za-z][A-Za-z.'&-]*(?:[ \t][A-Za-z.'&-]+)*`
	pctPat  = `(\d+(?:\.\d+)?)[ \t]*%`
)

type rolePattern struct {
	roleType string
	// "<keyword>: <name> <pct>%"; name is optional, legacy rows often carry
	// a bare "Company: 15%".
	prefixed *regexp.Regexp
	// "<name> (<keyword> <pct>%)"
	wrapped *regexp.Regexp
}

var rolePatterns = buildRolePatterns()

func buildRolePatterns() []rolePattern {
	out := make([]rolePattern, 0, len(roleKeywords))
	for _, rk := range roleKeywords {
		kw := `(?:` + strings.Join(escapeAll(rk.words), `|`) + `)`
		out = append(out, rolePattern{
			roleType: rk.roleType,
			prefixed: regexp.MustCompile(`(?i)\b` + kw + `[ \t]*:[ \t]*(` + namePat + `)??[ \t]*` + pctPat),
			wrapped:  regexp.MustCompile(`(?i)\b(` + namePat + `)[ \t]*\([ \t]*` + kw + `[ \t]+` + pctPat + `[ \t]*\)`),
		})
	}
	return out
}

func escapeAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = regexp.QuoteMeta(w)
	}
	return out
}

var (
	loosePct   = regexp.MustCompile(`(` + namePat + `)??[ \t]*:?[ \t]*` + pctPat)
	bareNames  = regexp.MustCompile(`\b[A-Z][a-z]+(?:[ \t][A-Z][a-z]+)*\b`)
	keywordSet = buildKeywordSet()
)

func buildKeywordSet() map[string]bool {
	set := make(map[string]bool)
	for _, rk := range roleKeywords {
		for _, w := range rk.words {
			set[w] = true
		}
	}
	return set
}

// ParseColumnI extracts structured role splits from an annotation string using
// the keyword-anchored patterns, then rescales so the result sums to 100.
// Empty output is valid; the caller decides whether that means unparseable.
func ParseColumnI(text string) []ParsedRole {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var roles []ParsedRole
	seen := make(map[string]bool)
	add := func(roleType, name string, pct float64) {
		name = strings.TrimSpace(name)
		key := roleType + "|" + strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		roles = append(roles, ParsedRole{RoleType: roleType, UserName: name, Percentage: pct})
	}

	for _, rp := range rolePatterns {
		for _, m := range rp.prefixed.FindAllStringSubmatch(text, -1) {
			if pct, err := strconv.ParseFloat(m[2], 64); err == nil {
				add(rp.roleType, m[1], pct)
			}
		}
		for _, m := range rp.wrapped.FindAllStringSubmatch(text, -1) {
			if pct, err := strconv.ParseFloat(m[2], 64); err == nil {
				add(rp.roleType, m[1], pct)
			}
		}
	}
	if len(roles) == 0 {
		return ParseColumnILoose(text)
	}
	return rescale(roles)
}

// ParseColumnILoose is the bulk/legacy pass: it matches any "<name> <pct>%"
// fragment without requiring a role keyword and infers the role from keyword
// presence in the name or the full annotation. When no percentage-bearing
// text exists at all, it splits 100% equally across bare capitalized names.
func ParseColumnILoose(text string) []ParsedRole {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var roles []ParsedRole
	seen := make(map[string]bool)
	for _, m := range loosePct.FindAllStringSubmatch(text, -1) {
		pct, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		roleType := inferRole(name, text)
		name = stripRoleKeywords(name)
		key := roleType + "|" + strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		roles = append(roles, ParsedRole{RoleType: roleType, UserName: name, Percentage: pct})
	}
	if len(roles) > 0 {
		return rescale(roles)
	}
	return equalSplitFallback(text)
}

// inferRole applies the inference rule table; rep is the default.
func inferRole(name, context string) string {
	for _, rule := range inferenceRules {
		if rule.test(name, context) {
			return rule.roleType
		}
	}
	return RoleRep
}

// stripRoleKeywords removes leading/trailing role keywords captured as part
// of a name ("Agent Tom Brown" → "Tom Brown").
func stripRoleKeywords(name string) string {
	fields := strings.Fields(name)
	for len(fields) > 0 && keywordSet[strings.ToLower(fields[0])] {
		fields = fields[1:]
	}
	for len(fields) > 0 && keywordSet[strings.ToLower(fields[len(fields)-1])] {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

// equalSplitFallback extracts capitalized name sequences and splits 100%
// equally among them.
func equalSplitFallback(text string) []ParsedRole {
	var names []string
	seen := make(map[string]bool)
	for _, n := range bareNames.FindAllString(text, -1) {
		if keywordSet[strings.ToLower(n)] {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	share := decimal.NewFromInt(100).DivRound(decimal.NewFromInt(int64(len(names))), 2)
	roles := make([]ParsedRole, len(names))
	running := decimal.Zero
	for i, n := range names {
		p := share
		if i == len(names)-1 {
			p = decimal.NewFromInt(100).Sub(running)
		}
		running = running.Add(p)
		roles[i] = ParsedRole{RoleType: inferRole(n, text), UserName: n, Percentage: p.InexactFloat64()}
	}
	return roles
}

// rescale proportionally adjusts percentages so they sum to exactly 100.
// Source text is informally written, so an 80%-total split becomes a complete
// split rather than a rejection; the manual-review surface relies on that.
func rescale(roles []ParsedRole) []ParsedRole {
	total := decimal.Zero
	for _, r := range roles {
		total = total.Add(decimal.NewFromFloat(r.Percentage))
	}
	if total.IsZero() {
		return roles
	}
	hundred := decimal.NewFromInt(100)
	if total.Sub(hundred).Abs().LessThanOrEqual(decimal.NewFromFloat(SplitTolerance)) {
		return roles
	}
	factor := hundred.Div(total)
	running := decimal.Zero
	for i := range roles {
		p := decimal.NewFromFloat(roles[i].Percentage).Mul(factor).Round(2)
		if i == len(roles)-1 {
			p = hundred.Sub(running)
		}
		running = running.Add(p)
		roles[i].Percentage = p.InexactFloat64()
	}
	return roles
}
