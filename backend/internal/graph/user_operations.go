package graph

import (
	"context"
	"sort"
	"strings"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
)

// GetUser loads a user row
func (r *Repository) GetUser(ctx context.Context, userID string) (*User, error) {
	rows, err := r.store.Select(ctx, constants.TableUsers, store.Where(store.Eq("id", userID)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFound(KindUser, userID)
	}
	user := userFromRow(rows[0])
	return &user, nil
}

// UpsertUser creates or renames a user and sets their streak
func (r *Repository) UpsertUser(ctx context.Context, user User) error {
	if strings.TrimSpace(user.ID) == "" {
		return apperrors.NewValidation("id", "must not be empty")
	}
	return r.store.Upsert(ctx, constants.TableUsers, store.Row{
		"id":           user.ID,
		"name":         user.Name,
		"streak_count": user.StreakCount,
	}, "id")
}

// ListUsers returns every user ordered by id
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.store.Select(ctx, constants.TableUsers, store.Query{}.OrderBy("id", false))
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		users = append(users, userFromRow(row))
	}
	return users, nil
}

// ListStudents builds the student directory: every user with their
// sorted course names and tier counts.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	users, err := r.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return []Student{}, nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	courseRows, err := r.store.Select(ctx, constants.TableCourses, store.Where(store.InStrings("user_id", ids)))
	if err != nil {
		return nil, err
	}
	courses := make(map[string][]string)
	for _, row := range courseRows {
		uid := row.GetString("user_id")
		courses[uid] = append(courses[uid], row.GetString("course_name"))
	}

	nodeRows, err := r.store.Select(ctx, constants.TableNodes, store.Where(store.InStrings("user_id", ids)))
	if err != nil {
		return nil, err
	}
	nodes := make(map[string][]ConceptNode)
	for _, row := range nodeRows {
		n := nodeFromRow(row)
		nodes[n.UserID] = append(nodes[n.UserID], n)
	}

	students := make([]Student, 0, len(users))
	for _, u := range users {
		names := courses[u.ID]
		if names == nil {
			names = []string{}
		}
		sort.Strings(names)
		stats := ComputeStats(nodes[u.ID])
		stats.Streak = u.StreakCount
		students = append(students, Student{
			ID:      u.ID,
			Name:    u.Name,
			Streak:  u.StreakCount,
			Courses: names,
			Stats:   stats,
		})
	}
	return students, nil
}
