package graph

import (
	"math"
	"sort"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
)

const (
	daysPerMonth = 30.44
	day          = 24 * time.Hour
)

// DeriveParams holds the edge policy applied to a single unit.
type DeriveParams struct {
	AsOf                   time.Time
	WeightFloor            float64
	LookbackDays           int
	HalfLifeDays           float64
	MaxContributorsPerRepo int
}

// CompanyProvenance and RepositoryProvenance name the unit an edge
// contribution was derived from.
func CompanyProvenance(id string) string    { return "company:" + id }
func RepositoryProvenance(id string) string { return "repo:" + id }

type interval struct {
	start, end time.Time
}

// mergeIntervals sorts and joins overlapping or touching stints.
func mergeIntervals(in []interval) []interval {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool { return in[i].start.Before(in[j].start) })
	out := []interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if !iv.start.After(last.end) {
			if iv.end.After(last.end) {
				last.end = iv.end
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

type stints struct {
	person    string
	intervals []interval
}

func (s stints) span() interval {
	return interval{start: s.intervals[0].start, end: s.intervals[len(s.intervals)-1].end}
}

// overlap returns the shared duration of two merged interval lists and the
// window it covers.
func overlap(a, b []interval) (time.Duration, time.Time, time.Time) {
	var total time.Duration
	var first, last time.Time
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := later(a[i].start, b[j].start)
		end := earlier(a[i].end, b[j].end)
		if end.After(start) {
			total += end.Sub(start)
			if first.IsZero() {
				first = start
			}
			last = end
		}
		if a[i].end.Before(b[j].end) {
			i++
		} else {
			j++
		}
	}
	return total, first, last
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// CoEmployment derives one co_employment contribution per unordered pair of
// people whose stints at companyID overlap. Open-ended stints run until
// p.AsOf; intervals are clipped there. Invalid records are counted as
// skipped.
func CoEmployment(companyID string, records []common.EmploymentRecord, p DeriveParams) ([]common.EdgeContribution, int) {
	skipped := 0
	byPerson := make(map[string][]interval)
	for _, r := range records {
		if err := r.Validate(); err != nil || r.CompanyID != companyID {
			skipped++
			continue
		}
		end := p.AsOf
		if r.End != nil && r.End.Before(end) {
			end = *r.End
		}
		if !end.After(r.Start) {
			continue
		}
		byPerson[r.PersonID] = append(byPerson[r.PersonID], interval{start: r.Start.UTC(), end: end.UTC()})
	}

	people := make([]stints, 0, len(byPerson))
	for person, ivs := range byPerson {
		people = append(people, stints{person: person, intervals: mergeIntervals(ivs)})
	}
	sort.Slice(people, func(i, j int) bool {
		si, sj := people[i].span(), people[j].span()
		if !si.start.Equal(sj.start) {
			return si.start.Before(sj.start)
		}
		return people[i].person < people[j].person
	})

	provenance := CompanyProvenance(companyID)
	var out []common.EdgeContribution
	for i := range people {
		span := people[i].span()
		for j := i + 1; j < len(people); j++ {
			// people are ordered by first start, so nobody after j can overlap i either
			if !people[j].span().start.Before(span.end) {
				break
			}
			shared, first, last := overlap(people[i].intervals, people[j].intervals)
			if shared <= 0 {
				continue
			}
			weight := shared.Hours() / 24 / daysPerMonth
			if weight < p.WeightFloor {
				continue
			}
			out = append(out, common.EdgeContribution{
				Key:           common.NewEdgeKey(common.PersonID(people[i].person), common.PersonID(people[j].person), common.EdgeCoEmployment),
				Provenance:    provenance,
				Weight:        weight,
				FirstObserved: first,
				LastObserved:  last,
			})
		}
	}
	sortContributions(out)
	return out, skipped
}

type contributor struct {
	person string
	count  int64
	last   time.Time
}

// Collaboration derives one collaboration contribution per pair of recent
// contributors to repositoryID. The weight decays with the age of the older
// of the two last activities.
func Collaboration(repositoryID string, records []common.ContributionRecord, p DeriveParams) ([]common.EdgeContribution, int) {
	skipped := 0
	cutoff := p.AsOf.Add(-time.Duration(p.LookbackDays) * day)
	byPerson := make(map[string]*contributor)
	for _, r := range records {
		if err := r.Validate(); err != nil || r.RepositoryID != repositoryID {
			skipped++
			continue
		}
		if r.ContributionCount <= 0 || r.LastActivity.IsZero() {
			continue
		}
		if p.LookbackDays > 0 && r.LastActivity.Before(cutoff) {
			continue
		}
		c, ok := byPerson[r.PersonID]
		if !ok {
			c = &contributor{person: r.PersonID}
			byPerson[r.PersonID] = c
		}
		c.count += r.ContributionCount
		if r.LastActivity.After(c.last) {
			c.last = r.LastActivity.UTC()
		}
	}

	active := make([]contributor, 0, len(byPerson))
	for _, c := range byPerson {
		active = append(active, *c)
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].count != active[j].count {
			return active[i].count > active[j].count
		}
		return active[i].person < active[j].person
	})
	if p.MaxContributorsPerRepo > 0 && len(active) > p.MaxContributorsPerRepo {
		active = active[:p.MaxContributorsPerRepo]
	}

	provenance := RepositoryProvenance(repositoryID)
	var out []common.EdgeContribution
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			older := earlier(active[i].last, active[j].last)
			newer := later(active[i].last, active[j].last)
			weight := decay(p.AsOf.Sub(older), p.HalfLifeDays)
			if weight < p.WeightFloor {
				continue
			}
			out = append(out, common.EdgeContribution{
				Key:           common.NewEdgeKey(common.PersonID(active[i].person), common.PersonID(active[j].person), common.EdgeCollaboration),
				Provenance:    provenance,
				Weight:        weight,
				FirstObserved: older,
				LastObserved:  newer,
			})
		}
	}
	sortContributions(out)
	return out, skipped
}

// decay halves the weight every halfLifeDays. Activity after AsOf counts as
// current.
func decay(age time.Duration, halfLifeDays float64) float64 {
	if age < 0 {
		age = 0
	}
	if halfLifeDays <= 0 {
		return 1
	}
	days := age.Hours() / 24
	return math.Exp(-math.Ln2 * days / halfLifeDays)
}

func sortContributions(cs []common.EdgeContribution) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i].Key, cs[j].Key
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		if a.Dst != b.Dst {
			return a.Dst < b.Dst
		}
		return a.Type < b.Type
	})
}
