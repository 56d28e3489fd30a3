package pgdb

import (
	"context"
)

const listCompanyIDs = `-- name: ListCompanyIDs :many
SELECT DISTINCT company_id
FROM employments
WHERE company_id > $1
ORDER BY company_id
LIMIT $2
`

type ListCompanyIDsParams struct {
	After string
	Limit int32
}

func (q *Queries) ListCompanyIDs(ctx context.Context, arg ListCompanyIDsParams) ([]string, error) {
	rows, err := q.db.Query(ctx, listCompanyIDs, arg.After, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var company_id string
		if err := rows.Scan(&company_id); err != nil {
			return nil, err
		}
		items = append(items, company_id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listRepositoryIDs = `-- name: ListRepositoryIDs :many
SELECT DISTINCT repository_id
FROM contributions
WHERE repository_id > $1
ORDER BY repository_id
LIMIT $2
`

type ListRepositoryIDsParams struct {
	After string
	Limit int32
}

func (q *Queries) ListRepositoryIDs(ctx context.Context, arg ListRepositoryIDsParams) ([]string, error) {
	rows, err := q.db.Query(ctx, listRepositoryIDs, arg.After, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var repository_id string
		if err := rows.Scan(&repository_id); err != nil {
			return nil, err
		}
		items = append(items, repository_id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listEmploymentsByCompany = `-- name: ListEmploymentsByCompany :many
SELECT person_id, company_id, start_date, end_date
FROM employments
WHERE company_id = $1
ORDER BY person_id, start_date
`

func (q *Queries) ListEmploymentsByCompany(ctx context.Context, companyID string) ([]Employment, error) {
	rows, err := q.db.Query(ctx, listEmploymentsByCompany, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Employment
	for rows.Next() {
		var i Employment
		if err := rows.Scan(
			&i.PersonID,
			&i.CompanyID,
			&i.StartDate,
			&i.EndDate,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listContributionsByRepository = `-- name: ListContributionsByRepository :many
SELECT person_id, repository_id, contribution_count, last_activity_date
FROM contributions
WHERE repository_id = $1
ORDER BY person_id
`

func (q *Queries) ListContributionsByRepository(ctx context.Context, repositoryID string) ([]Contribution, error) {
	rows, err := q.db.Query(ctx, listContributionsByRepository, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Contribution
	for rows.Next() {
		var i Contribution
		if err := rows.Scan(
			&i.PersonID,
			&i.RepositoryID,
			&i.ContributionCount,
			&i.LastActivityDate,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listRepositorySignals = `-- name: ListRepositorySignals :many
SELECT r.repository_id, r.stars, r.forks, r.primary_language,
       COUNT(c.person_id) FILTER (WHERE c.contribution_count > 0) AS contributors,
       MAX(c.last_activity_date) AS last_activity
FROM repositories r
LEFT JOIN contributions c ON c.repository_id = r.repository_id
WHERE cardinality($1::text[]) = 0 OR r.repository_id = ANY($1::text[])
GROUP BY r.repository_id, r.stars, r.forks, r.primary_language
ORDER BY r.repository_id
`

func (q *Queries) ListRepositorySignals(ctx context.Context, scope []string) ([]RepositorySignal, error) {
	rows, err := q.db.Query(ctx, listRepositorySignals, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RepositorySignal
	for rows.Next() {
		var i RepositorySignal
		if err := rows.Scan(
			&i.RepositoryID,
			&i.Stars,
			&i.Forks,
			&i.PrimaryLanguage,
			&i.Contributors,
			&i.LastActivity,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listDeveloperSignals = `-- name: ListDeveloperSignals :many
SELECT p.person_id, p.followers, p.merged_contributions,
       (SELECT COUNT(DISTINCT c.repository_id) FROM contributions c
        WHERE c.person_id = p.person_id AND c.contribution_count > 0) AS repository_breadth,
       (SELECT MIN(e.start_date) FROM employments e WHERE e.person_id = p.person_id) AS first_start
FROM persons p
WHERE cardinality($1::text[]) = 0 OR p.person_id = ANY($1::text[])
ORDER BY p.person_id
`

func (q *Queries) ListDeveloperSignals(ctx context.Context, scope []string) ([]DeveloperSignal, error) {
	rows, err := q.db.Query(ctx, listDeveloperSignals, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeveloperSignal
	for rows.Next() {
		var i DeveloperSignal
		if err := rows.Scan(
			&i.PersonID,
			&i.Followers,
			&i.MergedContributions,
			&i.RepositoryBreadth,
			&i.FirstStart,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPersonSkills = `-- name: ListPersonSkills :many
SELECT person_id, skill, proficiency
FROM person_skills
WHERE cardinality($1::text[]) = 0 OR person_id = ANY($1::text[])
ORDER BY person_id, skill
`

func (q *Queries) ListPersonSkills(ctx context.Context, scope []string) ([]PersonSkill, error) {
	rows, err := q.db.Query(ctx, listPersonSkills, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PersonSkill
	for rows.Next() {
		var i PersonSkill
		if err := rows.Scan(&i.PersonID, &i.Skill, &i.Proficiency); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listTaggedNodes = `-- name: ListTaggedNodes :many
SELECT 'person:' || ps.person_id AS node_id
FROM person_skills ps
WHERE lower(ps.skill) = lower($1)
UNION
SELECT 'person:' || c.person_id
FROM contributions c
JOIN repositories r ON r.repository_id = c.repository_id
WHERE c.contribution_count > 0
  AND EXISTS (SELECT 1 FROM unnest(r.topics) t WHERE lower(t) = lower($1))
ORDER BY 1
`

func (q *Queries) ListTaggedNodes(ctx context.Context, tag string) ([]string, error) {
	rows, err := q.db.Query(ctx, listTaggedNodes, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var node_id string
		if err := rows.Scan(&node_id); err != nil {
			return nil, err
		}
		items = append(items, node_id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const personExists = `-- name: PersonExists :one
SELECT EXISTS (SELECT 1 FROM persons WHERE person_id = $1)
    OR EXISTS (SELECT 1 FROM employments WHERE person_id = $1)
    OR EXISTS (SELECT 1 FROM contributions WHERE person_id = $1)
`

func (q *Queries) PersonExists(ctx context.Context, personID string) (bool, error) {
	row := q.db.QueryRow(ctx, personExists, personID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const repositoryExists = `-- name: RepositoryExists :one
SELECT EXISTS (SELECT 1 FROM repositories WHERE repository_id = $1)
`

func (q *Queries) RepositoryExists(ctx context.Context, repositoryID string) (bool, error) {
	row := q.db.QueryRow(ctx, repositoryExists, repositoryID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}
