package pgx

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"

	"github.com/jackc/pgx/v5/pgtype"
)

func dateTime(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	return d.Time.UTC()
}

func datePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time.UTC()
	return &t
}

func (s *GraphDBStorage) ListCompanies(ctx context.Context, after string, limit int) ([]string, error) {
	ids, err := s.queries().ListCompanyIDs(ctx, pgdb.ListCompanyIDsParams{After: after, Limit: int32(limit)})
	if err != nil {
		return nil, unavailable("list companies", err)
	}
	return ids, nil
}

func (s *GraphDBStorage) ListRepositories(ctx context.Context, after string, limit int) ([]string, error) {
	ids, err := s.queries().ListRepositoryIDs(ctx, pgdb.ListRepositoryIDsParams{After: after, Limit: int32(limit)})
	if err != nil {
		return nil, unavailable("list repositories", err)
	}
	return ids, nil
}

func (s *GraphDBStorage) EmploymentsForCompany(ctx context.Context, companyID string) ([]common.EmploymentRecord, error) {
	rows, err := s.queries().ListEmploymentsByCompany(ctx, companyID)
	if err != nil {
		return nil, unavailable("employments", err)
	}
	out := make([]common.EmploymentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.EmploymentRecord{
			PersonID:  r.PersonID,
			CompanyID: r.CompanyID,
			Start:     dateTime(r.StartDate),
			End:       datePtr(r.EndDate),
		})
	}
	return out, nil
}

func (s *GraphDBStorage) ContributionsForRepository(ctx context.Context, repositoryID string) ([]common.ContributionRecord, error) {
	rows, err := s.queries().ListContributionsByRepository(ctx, repositoryID)
	if err != nil {
		return nil, unavailable("contributions", err)
	}
	out := make([]common.ContributionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.ContributionRecord{
			PersonID:          r.PersonID,
			RepositoryID:      r.RepositoryID,
			ContributionCount: r.ContributionCount,
			LastActivity:      dateTime(r.LastActivityDate),
		})
	}
	return out, nil
}

func (s *GraphDBStorage) RepositorySignals(ctx context.Context, scope []string) ([]common.RepositorySignals, error) {
	if scope == nil {
		scope = []string{}
	}
	rows, err := s.queries().ListRepositorySignals(ctx, scope)
	if err != nil {
		return nil, unavailable("repository signals", err)
	}
	out := make([]common.RepositorySignals, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.RepositorySignals{
			RepositoryID:    r.RepositoryID,
			Stars:           r.Stars,
			Forks:           r.Forks,
			PrimaryLanguage: r.PrimaryLanguage.String,
			Contributors:    r.Contributors,
			LastActivity:    datePtr(r.LastActivity),
		})
	}
	return out, nil
}

func (s *GraphDBStorage) DeveloperSignals(ctx context.Context, scope []string) ([]common.DeveloperSignals, error) {
	if scope == nil {
		scope = []string{}
	}
	q := s.queries()
	rows, err := q.ListDeveloperSignals(ctx, scope)
	if err != nil {
		return nil, unavailable("developer signals", err)
	}
	skills, err := q.ListPersonSkills(ctx, scope)
	if err != nil {
		return nil, unavailable("person skills", err)
	}
	byPerson := make(map[string]map[string]float64)
	for _, sk := range skills {
		if byPerson[sk.PersonID] == nil {
			byPerson[sk.PersonID] = make(map[string]float64)
		}
		byPerson[sk.PersonID][sk.Skill] = sk.Proficiency
	}

	now := s.now()
	out := make([]common.DeveloperSignals, 0, len(rows))
	for _, r := range rows {
		sig := common.DeveloperSignals{
			PersonID:            r.PersonID,
			Followers:           r.Followers,
			MergedContributions: r.MergedContributions,
			RepositoryBreadth:   r.RepositoryBreadth,
			Skills:              byPerson[r.PersonID],
		}
		if first := datePtr(r.FirstStart); first != nil && first.Before(now) {
			sig.TenureYears = now.Sub(*first).Hours() / 24 / 365.25
		}
		out = append(out, sig)
	}
	return out, nil
}

func (s *GraphDBStorage) TaggedNodes(ctx context.Context, tag string) ([]common.NodeID, error) {
	ids, err := s.queries().ListTaggedNodes(ctx, tag)
	if err != nil {
		return nil, unavailable("tagged nodes", err)
	}
	out := make([]common.NodeID, 0, len(ids))
	for _, id := range ids {
		out = append(out, common.NodeID(id))
	}
	return out, nil
}
