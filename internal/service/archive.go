package service

import (
	"context"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// lookupArchivedDriveLink checks earlier completed permanent downloads
// and the shared course catalog for an existing copy of a course,
// matching the canonical URL and its public storefront variant. Returns
// "" when the course has never been archived.
func lookupArchivedDriveLink(ctx context.Context, tasks TaskStore, catalog CatalogStore, logger *zap.Logger, canonicalURL string) string {
	urls := []string{canonicalURL}
	if public, err := util.PublicCourseURL(canonicalURL); err == nil && public != canonicalURL {
		urls = append(urls, public)
	}

	task, err := tasks.FindCompletedPermanentTask(ctx, urls...)
	if err != nil {
		logger.Warn("Archive lookup failed", zap.String("course_url", canonicalURL), zap.Error(err))
	} else if task != nil && task.DriveLink != nil {
		return *task.DriveLink
	}

	course, err := catalog.FindCourseWithDriveLink(ctx, urls...)
	if err != nil {
		logger.Warn("Catalog lookup failed", zap.String("course_url", canonicalURL), zap.Error(err))
	} else if course != nil && course.DriveLink != nil {
		return *course.DriveLink
	}

	return ""
}
