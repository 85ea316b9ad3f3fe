package library

import "strings"

// tagRules maps title keywords to catalogue tags. Order is the order tags
// are emitted in.
var tagRules = []struct {
	tag      string
	keywords []string
}{
	{"Programming", []string{"algorithm", "code", "programming"}},
	{"Data Science", []string{"data", "database"}},
	{"AI/ML", []string{"ai ", "intelligence", "machine learning"}},
	{"Networking", []string{"network", "security"}},
	{"Electronics", []string{"circuit", "electric"}},
	{"Core Engineering", []string{"mechanic", "thermo"}},
	{"Physics", []string{"physics", "quantum"}},
	{"Biology", []string{"bio", "anatomy"}},
	{"History", []string{"history", "civilization"}},
	{"Fiction", []string{"novel", "story"}},
}

// TagBook derives search tags from a book's department, title keywords and
// ISBN registration group.
func TagBook(title string, dept Department, isbn string) []string {
	var tags []string
	seen := map[string]bool{}
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	add(string(dept))
	lower := strings.ToLower(title) + " "
	for _, rule := range tagRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				add(rule.tag)
				break
			}
		}
	}
	switch {
	case strings.HasPrefix(isbn, "978-0"):
		add("English Edition")
	case strings.HasPrefix(isbn, "978-1"):
		add("International Edition")
	}
	return tags
}
