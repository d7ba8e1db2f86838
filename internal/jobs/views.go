package jobs

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Filter selects jobs for list views. Every set field must match.
type Filter struct {
	Statuses []Status
	Kinds    []Kind
	// Search is a case-insensitive substring matched against prompts,
	// download sources and model metadata.
	Search      string
	CreatedFrom time.Time
	// CreatedTo is exclusive.
	CreatedTo time.Time
}

func (f Filter) matches(job *Job, fold cases.Caser, query string) bool {
	if len(f.Statuses) == 0 {
		if job.Status == StatusDeleted {
			return false
		}
	} else if !slices.Contains(f.Statuses, job.Status) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, job.Kind) {
		return false
	}
	if !f.CreatedFrom.IsZero() && job.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !job.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	if query == "" {
		return true
	}
	for _, text := range searchableText(job) {
		if text != "" && strings.Contains(fold.String(text), query) {
			return true
		}
	}
	return false
}

// collect returns copies of matching jobs, newest first.
func (s *Store) collect(filter Filter) []Job {
	fold := cases.Fold()
	query := fold.String(strings.TrimSpace(filter.Search))

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, job := range s.sortedLocked(createdDesc) {
		if filter.matches(job, fold, query) {
			out = append(out, s.viewLocked(job))
		}
	}
	return out
}

// Page is one offset window over a filtered, newest-first job list.
// Oldest and Newest span every match, not just the window.
type Page struct {
	Items   []Job     `json:"items"`
	Total   int       `json:"total"`
	HasMore bool      `json:"has_more"`
	Oldest  time.Time `json:"oldest,omitzero"`
	Newest  time.Time `json:"newest,omitzero"`
}

// ListPaginated returns matches [offset, offset+limit). A non-positive limit
// returns everything from offset on.
func (s *Store) ListPaginated(filter Filter, offset, limit int) Page {
	matches := s.collect(filter)
	total := len(matches)
	page := Page{Total: total, Items: []Job{}}
	if total == 0 {
		return page
	}
	page.Newest = matches[0].CreatedAt
	page.Oldest = matches[total-1].CreatedAt

	start := min(max(offset, 0), total)
	end := total
	if limit > 0 && limit < total-start {
		end = start + limit
	}
	page.Items = matches[start:end]
	page.HasMore = end < total
	return page
}

// DateGroup is a run of jobs created on the same local calendar day.
type DateGroup struct {
	Label string    `json:"label"`
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
	Jobs  []Job     `json:"jobs"`
}

// GroupedPage is one page of date-grouped jobs.
type GroupedPage struct {
	Groups     []DateGroup `json:"groups"`
	Total      int         `json:"total"`
	TotalPages int         `json:"total_pages"`
	Page       int         `json:"page"`
}

// ListGroupedByDate slices matches by page and buckets the page by local
// day. A page may end partway through a day, in which case the next page
// starts with the remainder of that day. A non-positive pageSize returns
// every match on a single page.
func (s *Store) ListGroupedByDate(filter Filter, page, pageSize int) GroupedPage {
	matches := s.collect(filter)
	total := len(matches)
	out := GroupedPage{Total: total, Page: max(page, 1), Groups: []DateGroup{}}

	window := matches
	if pageSize > 0 {
		out.TotalPages = total / pageSize
		if total%pageSize != 0 {
			out.TotalPages++
		}
		// Pages past the end share the first empty window.
		start := min((min(out.Page, out.TotalPages+1)-1)*pageSize, total)
		end := total
		if pageSize < total-start {
			end = start + pageSize
		}
		window = matches[start:end]
	} else {
		out.Page = 1
		if total > 0 {
			out.TotalPages = 1
		}
	}

	today := localDay(s.now(), s.loc)
	for _, job := range window {
		day := localDay(job.CreatedAt, s.loc)
		if n := len(out.Groups); n > 0 && out.Groups[n-1].Date.Equal(day) {
			out.Groups[n-1].Jobs = append(out.Groups[n-1].Jobs, job)
			out.Groups[n-1].Count++
			continue
		}
		out.Groups = append(out.Groups, DateGroup{
			Label: DayLabel(day, today),
			Date:  day,
			Count: 1,
			Jobs:  []Job{job},
		})
	}
	return out
}

func localDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayLabel names day relative to today; both must be local midnights.
func DayLabel(day, today time.Time) string {
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format(time.DateOnly)
	}
}
