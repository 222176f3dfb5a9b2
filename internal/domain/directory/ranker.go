package directory

import (
	"slices"
	"strings"
)

// RankByLocation returns doctors whose location contains the requested
// location (case-insensitive) ahead of the rest. Input order is preserved
// inside each group unless less is given, in which case each group is
// stably sorted by it. An empty location returns a copy of the input.
func RankByLocation(doctors []*Doctor, location string, less func(a, b *Doctor) bool) []*Doctor {
	out := make([]*Doctor, 0, len(doctors))
	want := strings.ToLower(strings.TrimSpace(location))
	if want == "" {
		return append(out, doctors...)
	}

	var rest []*Doctor
	for _, d := range doctors {
		if strings.Contains(strings.ToLower(d.Location), want) {
			out = append(out, d)
		} else {
			rest = append(rest, d)
		}
	}
	if less != nil {
		cmp := func(a, b *Doctor) int {
			switch {
			case less(a, b):
				return -1
			case less(b, a):
				return 1
			}
			return 0
		}
		slices.SortStableFunc(out, cmp)
		slices.SortStableFunc(rest, cmp)
	}
	return append(out, rest...)
}

// ByRating orders higher-rated doctors first.
func ByRating(a, b *Doctor) bool { return a.Rating > b.Rating }
