package bookmark

import "strings"

// hostCategories maps host substrings to categories. First match wins in
// the order below; plain map iteration would make assignment flap between
// runs for hosts matching several patterns.
var hostCategories = []struct {
	pattern  string
	category Category
}{
	{"github.com", CategoryDevelopment},
	{"stackoverflow.com", CategoryDevelopment},
	{"dev.to", CategoryDevelopment},
	{"medium.com", CategoryArticle},
	{"blog.", CategoryArticle},
	{"dribbble.com", CategoryDesign},
	{"behance.net", CategoryDesign},
	{"figma.com", CategoryDesign},
	{"youtube.com", CategoryTutorial},
	{"youtu.be", CategoryTutorial},
	{"docs.", CategoryResource},
	{"wikipedia.org", CategoryResource},
}

// CategorizeHost assigns a category from the host name, defaulting to
// CategoryOther when no pattern matches.
func CategorizeHost(host string) Category {
	host = strings.ToLower(host)
	for _, hc := range hostCategories {
		if strings.Contains(host, hc.pattern) {
			return hc.category
		}
	}
	return CategoryOther
}
