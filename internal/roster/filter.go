package roster

import (
	"sort"
	"strings"
)

// PageSize is the number of contacts per page.
const PageSize = 50

// Roles that see every contact. Any other role only sees contacts tagged
// with the viewer's own name.
var fullAccessRoles = map[string]bool{
	"admin":   true,
	"manager": true,
}

// Viewer is the acting operator. It is passed explicitly to every view.
type Viewer struct {
	Name string
	Role string
	// PhoneIndex binds the viewer to one company line when set.
	PhoneIndex *int
}

// Filter is the user-controlled part of a view.
type Filter struct {
	Tags  []string
	Query string
	Page  int
}

// Page is one page of a view.
type Page struct {
	Contacts []Contact
	// Total is the number of contacts matching before pagination.
	Total     int
	Page      int
	PageCount int
}

// env is what the pipeline needs besides the contacts.
type env struct {
	viewer Viewer
	// employees holds lower-cased employee names.
	employees map[string]bool
	// phones maps lower-cased line names to line indexes.
	phones map[string]int
}

// view runs the fixed pipeline: visibility, line scoping, tag predicates,
// search, sort, pagination.
func view(contacts []Contact, e env, f Filter) Page {
	out := make([]Contact, 0, len(contacts))
	tags := activeTags(f.Tags)
	words := strings.Fields(strings.ToLower(f.Query))
	for _, c := range contacts {
		if !visible(c, e.viewer) || !inLine(c, e.viewer) {
			continue
		}
		if !matchTags(c, tags, e) || !matchWords(c, words) {
			continue
		}
		out = append(out, c)
	}
	sortContacts(out)
	return paginate(out, f.Page)
}

func visible(c Contact, v Viewer) bool {
	if fullAccessRoles[strings.ToLower(v.Role)] {
		return true
	}
	return v.Name != "" && c.HasTag(v.Name)
}

func inLine(c Contact, v Viewer) bool {
	return v.PhoneIndex == nil || c.Line() == *v.PhoneIndex
}

// activeTags lower-cases and dedupes tags. "all" excludes every other tag.
func activeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if t == TagAll {
			return []string{TagAll}
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func matchTags(c Contact, tags []string, e env) bool {
	for _, t := range tags {
		if !matchTag(c, t, e) {
			return false
		}
	}
	return true
}

func matchTag(c Contact, tag string, e env) bool {
	switch tag {
	case TagAll:
		return !c.IsGroup() && !c.HasTag(TagSnooze)
	case TagUnread:
		return c.UnreadCount > 0
	case TagMine:
		return e.viewer.Name != "" && c.HasTag(e.viewer.Name)
	case TagUnassigned:
		for _, t := range c.Tags {
			if e.employees[strings.ToLower(t)] {
				return false
			}
		}
		return true
	case TagSnooze, TagResolved, TagStopBot:
		return c.HasTag(tag)
	case TagActiveBot:
		return !c.HasTag(TagStopBot)
	case TagGroup:
		return c.IsGroup()
	}
	if idx, ok := e.phones[tag]; ok {
		return c.Line() == idx
	}
	return c.HasTag(tag)
}

// matchWords requires every word to appear in the name, the phone or a tag.
func matchWords(c Contact, words []string) bool {
	if len(words) == 0 {
		return true
	}
	fields := make([]string, 0, len(c.Tags)+2)
	fields = append(fields, strings.ToLower(c.Name), strings.ToLower(c.Phone))
	for _, t := range c.Tags {
		fields = append(fields, strings.ToLower(t))
	}
	for _, w := range words {
		found := false
		for _, f := range fields {
			if strings.Contains(f, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortContacts puts pinned contacts first, then the most recent activity.
func sortContacts(cs []Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Pinned != cs[j].Pinned {
			return cs[i].Pinned
		}
		if cs[i].LastMessageAtMs != cs[j].LastMessageAtMs {
			return cs[i].LastMessageAtMs > cs[j].LastMessageAtMs
		}
		return cs[i].ID < cs[j].ID
	})
}

func paginate(cs []Contact, page int) Page {
	total := len(cs)
	count := (total + PageSize - 1) / PageSize
	if page < 0 {
		page = 0
	}
	start := page * PageSize
	if start > total {
		start = total
	}
	end := min(start+PageSize, total)
	return Page{Contacts: cs[start:end], Total: total, Page: page, PageCount: count}
}

// ViewState holds a filter across interactions. Changing the search query
// resets the page to the first one.
type ViewState struct {
	filter Filter
}

// Filter returns the current filter.
func (s *ViewState) Filter() Filter {
	f := s.filter
	f.Tags = append([]string(nil), s.filter.Tags...)
	return f
}

// SetQuery changes the search query.
func (s *ViewState) SetQuery(q string) {
	if q != s.filter.Query {
		s.filter.Page = 0
	}
	s.filter.Query = q
}

// SetTags replaces the active tags.
func (s *ViewState) SetTags(tags ...string) {
	s.filter.Tags = append([]string(nil), tags...)
}

// SetPage selects a page.
func (s *ViewState) SetPage(p int) {
	if p < 0 {
		p = 0
	}
	s.filter.Page = p
}
