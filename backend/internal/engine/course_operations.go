package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"sapling-graph/backend/internal/coursectx"
	"sapling-graph/backend/internal/graph"
)

// ListCourses returns a user's courses with node counts
func (e *Engine) ListCourses(ctx context.Context, userID string) (courses []graph.Course, err error) {
	ctx, span := e.startSpan(ctx, "ListCourses", userAttr(userID))
	defer func() { endSpan(span, err) }()

	return e.graph.ListCourses(ctx, userID)
}

// AddCourse registers a course for a user
func (e *Engine) AddCourse(ctx context.Context, userID, courseName, color string) (result *graph.AddCourseResult, err error) {
	ctx, span := e.startSpan(ctx, "AddCourse", userAttr(userID), courseAttr(courseName))
	defer func() { endSpan(span, err) }()

	return e.graph.AddCourse(ctx, userID, courseName, color)
}

// UpdateCourseColor recolors one of a user's courses
func (e *Engine) UpdateCourseColor(ctx context.Context, userID, courseName, color string) (err error) {
	ctx, span := e.startSpan(ctx, "UpdateCourseColor", userAttr(userID), courseAttr(courseName))
	defer func() { endSpan(span, err) }()

	return e.graph.UpdateCourseColor(ctx, userID, courseName, color)
}

// DeleteCourse removes a course and everything the user learned under it
func (e *Engine) DeleteCourse(ctx context.Context, userID, courseName string) (result *graph.DeleteCourseResult, err error) {
	ctx, span := e.startSpan(ctx, "DeleteCourse", userAttr(userID), courseAttr(courseName))
	defer func() { endSpan(span, err) }()

	result, err = e.graph.DeleteCourse(ctx, userID, courseName)
	if err == nil {
		span.SetAttributes(
			attribute.Int("course.nodes_deleted", result.NodesDeleted),
			attribute.Int("course.edges_deleted", result.EdgesDeleted),
		)
	}
	return result, err
}

// UpdateCourseContext rebuilds the cross-student aggregate for a course
func (e *Engine) UpdateCourseContext(ctx context.Context, courseName string) (err error) {
	ctx, span := e.startSpan(ctx, "UpdateCourseContext", courseAttr(courseName))
	defer func() { endSpan(span, err) }()

	return e.courses.UpdateCourseContext(ctx, courseName)
}

// GetCourseContext returns the last built aggregate for a course
func (e *Engine) GetCourseContext(ctx context.Context, courseName string) (cc *coursectx.CourseContext, err error) {
	ctx, span := e.startSpan(ctx, "GetCourseContext", courseAttr(courseName))
	defer func() { endSpan(span, err) }()

	return e.courses.GetCourseContext(ctx, courseName)
}
