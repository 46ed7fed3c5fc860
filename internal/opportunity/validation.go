package opportunity

import (
	"strings"
	"time"

	"OpportunityFinder/pkg/apperrors"
)

const dateLayout = "2006-01-02"

const msgRequired = "This field is required"

// details validates in and returns the normalized descriptive fields. today is midnight UTC.
// keepStart, when non-zero, is the stored start date an update may keep even if it has passed.
func (in Input) details(today, keepStart time.Time) (Details, error) {
	problems := map[string]string{}
	required := func(field, value string) string {
		value = strings.TrimSpace(value)
		if value == "" {
			problems[field] = msgRequired
		}
		return value
	}

	d := Details{
		Title:        required("title", in.Title),
		Description:  required("description", in.Description),
		Type:         required("type", in.Type),
		Domain:       strings.TrimSpace(in.Domain),
		Industry:     strings.TrimSpace(in.Industry),
		HoursPerWeek: in.HoursPerWeek,
		Roles:        cleanList(in.Roles),
		Skills:       cleanList(in.Skills),
	}
	if in.HoursPerWeek <= 0 {
		problems["hours_per_week"] = "Must be greater than 0"
	}

	start, startOK := parseDate(problems, "start_date", in.StartDate)
	end, endOK := parseDate(problems, "end_date", in.EndDate)
	if startOK && start.Before(today) && !start.Equal(keepStart) {
		problems["start_date"] = "Start date cannot be in the past"
	}
	if startOK && endOK && end.Before(start) {
		problems["end_date"] = "End date must be on or after the start date"
	}
	d.StartDate, d.EndDate = start, end

	if len(problems) > 0 {
		return Details{}, apperrors.ValidationError(problems)
	}
	return d, nil
}

func parseDate(problems map[string]string, field, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		problems[field] = msgRequired
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		problems[field] = "Must be a date in YYYY-MM-DD format"
		return time.Time{}, false
	}
	return t, true
}

// cleanList trims entries and drops blanks and duplicates, keeping first-seen order.
func cleanList(values []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
