package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidHolidayTable = errors.New("calendar: invalid holiday table")

// HolidaySource supplies holiday dates for a range of years.
// Sources are the only part of this package that performs I/O.
type HolidaySource interface {
	Holidays(ctx context.Context, fromYear, toYear int) ([]time.Time, error)
}

// Load builds a Calendar for the inclusive year range from src.
func Load(ctx context.Context, src HolidaySource, fromYear, toYear int) (*Calendar, error) {
	if src == nil {
		return New(nil), nil
	}
	if toYear < fromYear {
		return nil, fmt.Errorf("calendar: invalid year range %d..%d", fromYear, toYear)
	}
	days, err := src.Holidays(ctx, fromYear, toYear)
	if err != nil {
		return nil, err
	}
	return New(days), nil
}

// StaticSource is an in-memory holiday list.
type StaticSource []time.Time

func (s StaticSource) Holidays(_ context.Context, fromYear, toYear int) ([]time.Time, error) {
	out := make([]time.Time, 0, len(s))
	for _, d := range s {
		if d.Year() >= fromYear && d.Year() <= toYear {
			out = append(out, d)
		}
	}
	return out, nil
}

// holidayFile is the YAML layout of a holiday table:
//
//	years:
//	  2026:
//	    - 2026-01-01
//	    - 2026-12-25
type holidayFile struct {
	Years map[int][]string `yaml:"years"`
}

// FileSource reads holiday tables from a YAML file.
type FileSource struct {
	Path string
	Loc  *time.Location
}

func (s FileSource) Holidays(_ context.Context, fromYear, toYear int) ([]time.Time, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read holiday file: %w", err)
	}
	return ParseYAML(data, s.Loc, fromYear, toYear)
}

// ParseYAML decodes a holiday table, keeping only the requested years.
// Dates filed under the wrong year key are rejected.
func ParseYAML(data []byte, loc *time.Location, fromYear, toYear int) ([]time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHolidayTable, err)
	}
	years := make([]int, 0, len(f.Years))
	for y := range f.Years {
		years = append(years, y)
	}
	sort.Ints(years)

	var out []time.Time
	for _, y := range years {
		if y < fromYear || y > toYear {
			continue
		}
		for _, raw := range f.Years[y] {
			d, err := time.ParseInLocation(DateLayout, raw, loc)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidHolidayTable, raw, err)
			}
			if d.Year() != y {
				return nil, fmt.Errorf("%w: %s listed under %d", ErrInvalidHolidayTable, raw, y)
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// SQLSource reads holidays from a table shaped (day DATE PRIMARY KEY, name TEXT).
// The handle is expected to come from the pgx stdlib driver.
type SQLSource struct {
	DB  *sql.DB
	Loc *time.Location
}

func (s SQLSource) Holidays(ctx context.Context, fromYear, toYear int) ([]time.Time, error) {
	if s.DB == nil {
		return nil, errors.New("calendar: holiday db is nil")
	}
	loc := s.Loc
	if loc == nil {
		loc = time.Local
	}
	from := time.Date(fromYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(toYear+1, time.January, 1, 0, 0, 0, 0, time.UTC)

	rows, err := s.DB.QueryContext(ctx, `SELECT day FROM holidays WHERE day >= $1 AND day < $2 ORDER BY day`, from, to)
	if err != nil {
		return nil, fmt.Errorf("calendar: query holidays: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		// DATE columns come back as UTC midnight; re-anchor in the business location.
		out = append(out, time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc))
	}
	return out, rows.Err()
}
