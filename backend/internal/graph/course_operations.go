package graph

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
)

// ListCourses returns a user's courses in creation order with node counts
func (r *Repository) ListCourses(ctx context.Context, userID string) ([]Course, error) {
	rows, err := r.store.Select(ctx, constants.TableCourses,
		store.Where(store.Eq("user_id", userID)).OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}

	nodes, err := r.ListNodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[n.Subject]++
	}

	courses := make([]Course, 0, len(rows))
	for _, row := range rows {
		c := courseFromRow(row)
		c.NodeCount = counts[c.CourseName]
		courses = append(courses, c)
	}
	return courses, nil
}

// AddCourse registers a course. Adding an existing course is a no-op.
func (r *Repository) AddCourse(ctx context.Context, userID, courseName, color string) (*AddCourseResult, error) {
	courseName = strings.TrimSpace(courseName)
	if courseName == "" {
		return nil, apperrors.NewValidation("course_name", "must not be empty")
	}

	existing, err := r.store.Select(ctx, constants.TableCourses,
		store.Where(store.Eq("user_id", userID), store.Eq("course_name", courseName)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &AddCourseResult{CourseName: courseName, AlreadyExisted: true}, nil
	}

	if color == "" {
		color = constants.DefaultCourseColor
	}
	err = r.store.Insert(ctx, constants.TableCourses, store.Row{
		"id":          r.newID(),
		"user_id":     userID,
		"course_name": courseName,
		"color":       color,
		"created_at":  r.now(),
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Course added",
		zap.String("user_id", userID),
		zap.String("course", courseName),
	)
	return &AddCourseResult{CourseName: courseName, AlreadyExisted: false}, nil
}

// UpdateCourseColor recolors a course
func (r *Repository) UpdateCourseColor(ctx context.Context, userID, courseName, color string) error {
	courseName = strings.TrimSpace(courseName)
	if strings.TrimSpace(color) == "" {
		return apperrors.NewValidation("color", "must not be empty")
	}
	n, err := r.store.Update(ctx, constants.TableCourses, store.Row{"color": color},
		store.Eq("user_id", userID), store.Eq("course_name", courseName))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NewNotFound(KindCourse, courseName)
	}
	return nil
}

// DeleteCourse removes a course and everything hanging off its nodes:
// review rows and quiz attempts, then edges touching the nodes, then the
// nodes, then the course record, so no step leaves a dangling reference
// behind it.
// It is not-found only when neither a course record nor any node existed.
func (r *Repository) DeleteCourse(ctx context.Context, userID, courseName string) (*DeleteCourseResult, error) {
	courseName = strings.TrimSpace(courseName)
	if courseName == "" {
		return nil, apperrors.NewValidation("course_name", "must not be empty")
	}
	nodeRows, err := r.store.Select(ctx, constants.TableNodes,
		store.Where(store.Eq("user_id", userID), store.Eq("subject", courseName)))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(nodeRows))
	for _, row := range nodeRows {
		ids = append(ids, row.GetString("id"))
	}

	courseRows, err := r.store.Select(ctx, constants.TableCourses,
		store.Where(store.Eq("user_id", userID), store.Eq("course_name", courseName)).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 && len(courseRows) == 0 {
		return nil, apperrors.NewNotFound(KindCourse, courseName)
	}

	result := &DeleteCourseResult{CourseName: courseName}
	if len(ids) > 0 {
		n, err := r.store.Delete(ctx, constants.TableQuizContext, store.InStrings("concept_node_id", ids))
		if err != nil {
			return nil, err
		}
		result.ReviewRowsDeleted = n

		if _, err := r.store.Delete(ctx, constants.TableQuizAttempts, store.InStrings("concept_node_id", ids)); err != nil {
			return nil, err
		}

		for _, col := range []string{"source_node_id", "target_node_id"} {
			n, err := r.store.Delete(ctx, constants.TableEdges, store.InStrings(col, ids))
			if err != nil {
				return nil, err
			}
			result.EdgesDeleted += n
		}

		n, err = r.store.Delete(ctx, constants.TableNodes, store.InStrings("id", ids))
		if err != nil {
			return nil, err
		}
		result.NodesDeleted = n
	}

	if len(courseRows) > 0 {
		n, err := r.store.Delete(ctx, constants.TableCourses,
			store.Eq("user_id", userID), store.Eq("course_name", courseName))
		if err != nil {
			return nil, err
		}
		result.CourseRecordDeleted = n > 0
	}

	r.logger.Info("Course deleted",
		zap.String("user_id", userID),
		zap.String("course", courseName),
		zap.Int("nodes", result.NodesDeleted),
		zap.Int("edges", result.EdgesDeleted),
		zap.Int("review_rows", result.ReviewRowsDeleted),
	)

	r.triggerRebuild(ctx, []string{courseName})
	return result, nil
}
