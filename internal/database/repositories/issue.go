package repositories

import (
	"strings"
	"time"

	"mediasentry/internal/database/models"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// BucketCount is one time bucket of occurrence counts, bucket formatted by
// the SQLite strftime expression that produced it.
type BucketCount struct {
	Bucket string
	Count  int64
}

// HourCount is the total occurrence count for one hour of the day (0-23).
type HourCount struct {
	Hour  int
	Count int64
}

// OccurrenceStats carries the counters recomputed from occurrence rows.
type OccurrenceStats struct {
	Occurrences int64
	Users       int64
	Sessions    int64
}

// IssueRepository handles aggregated issues and their occurrence rows.
type IssueRepository interface {
	FindByID(id string) (*models.Issue, error)
	FindByFingerprint(fingerprint string) (*models.Issue, error)
	FindByIDs(ids []string) ([]*models.Issue, error)
	TopByScore(limit int) ([]*models.Issue, error)
	Create(issue *models.Issue) error
	Update(issue *models.Issue) error
	Delete(ids []string) error
	Count() (int64, error)
	CountUnresolved() (int64, error)

	InsertOccurrence(occ *models.IssueOccurrence) (bool, error)
	OccurrenceStats(issueID string) (*OccurrenceStats, error)
	RepointOccurrences(fromIDs []string, toID string) error
	HourlyCounts(issueID string, since time.Time) ([]BucketCount, error)
	DailyCounts(issueID string, since time.Time) ([]BucketCount, error)
	HourOfDayCounts(issueID string, since time.Time) ([]HourCount, error)

	InTransaction(fn func(IssueRepository) error) error
}

type issueRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

func NewIssueRepository(db *gorm.DB, logger *pterm.Logger) IssueRepository {
	return &issueRepo{db: db, logger: logger}
}

func (r *issueRepo) FindByID(id string) (*models.Issue, error) {
	var issue models.Issue
	if err := r.db.Where("id = ?", id).First(&issue).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *issueRepo) FindByFingerprint(fingerprint string) (*models.Issue, error) {
	var issue models.Issue
	if err := r.db.Where("fingerprint = ?", fingerprint).First(&issue).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *issueRepo) FindByIDs(ids []string) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := r.db.Where("id IN ?", ids).Find(&issues).Error
	return issues, err
}

// TopByScore lists the open issues that hurt most, for triage.
func (r *issueRepo) TopByScore(limit int) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := r.db.Where("resolved = ?", false).
		Order("impact_score DESC, last_seen DESC").
		Limit(limit).
		Find(&issues).Error
	return issues, err
}

func (r *issueRepo) Create(issue *models.Issue) error {
	if err := r.db.Create(issue).Error; err != nil {
		r.logger.WithCaller().Error("Failed to create issue",
			r.logger.Args("fingerprint", issue.Fingerprint, "error", err))
		return err
	}
	r.logger.Trace("Created issue", r.logger.Args("id", issue.ID, "title", issue.Title))
	return nil
}

func (r *issueRepo) Update(issue *models.Issue) error {
	if err := r.db.Save(issue).Error; err != nil {
		r.logger.WithCaller().Error("Failed to update issue",
			r.logger.Args("id", issue.ID, "error", err))
		return err
	}
	return nil
}

func (r *issueRepo) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Where("id IN ?", ids).Delete(&models.Issue{}).Error
}

func (r *issueRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Issue{}).Count(&count).Error
	return count, err
}

func (r *issueRepo) CountUnresolved() (int64, error) {
	var count int64
	err := r.db.Model(&models.Issue{}).Where("resolved = ?", false).Count(&count).Error
	return count, err
}

// InsertOccurrence writes one occurrence row. Returns false with a nil error
// when the entry key already exists: that is a re-delivered line (crash
// replay), not a failure, and must not bump any counter.
func (r *issueRepo) InsertOccurrence(occ *models.IssueOccurrence) (bool, error) {
	if err := r.db.Create(occ).Error; err != nil {
		if isDuplicateEntryKey(err) {
			r.logger.Trace("Skipped re-delivered entry",
				r.logger.Args("entry_key", occ.EntryKey, "source", occ.SourceName))
			return false, nil
		}
		r.logger.WithCaller().Error("Failed to insert occurrence",
			r.logger.Args("issue_id", occ.IssueID, "error", err))
		return false, err
	}
	return true, nil
}

func isDuplicateEntryKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "entry_key")
}

// OccurrenceStats recounts an issue's counters from its occurrence rows.
// Blank user/session IDs do not count as affected.
func (r *issueRepo) OccurrenceStats(issueID string) (*OccurrenceStats, error) {
	var stats OccurrenceStats
	err := r.db.Model(&models.IssueOccurrence{}).
		Select("COUNT(*) as occurrences, "+
			"COUNT(DISTINCT CASE WHEN user_id != '' THEN user_id END) as users, "+
			"COUNT(DISTINCT CASE WHEN session_id != '' THEN session_id END) as sessions").
		Where("issue_id = ?", issueID).
		Scan(&stats).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to recount occurrences",
			r.logger.Args("issue_id", issueID, "error", err))
		return nil, err
	}
	return &stats, nil
}

func (r *issueRepo) RepointOccurrences(fromIDs []string, toID string) error {
	if len(fromIDs) == 0 {
		return nil
	}
	return r.db.Model(&models.IssueOccurrence{}).
		Where("issue_id IN ?", fromIDs).
		Update("issue_id", toID).Error
}

// HourlyCounts buckets an issue's occurrences per hour since the given time.
func (r *issueRepo) HourlyCounts(issueID string, since time.Time) ([]BucketCount, error) {
	var buckets []BucketCount
	err := r.db.Model(&models.IssueOccurrence{}).
		Select("strftime('%Y-%m-%d %H:00', timestamp) as bucket, COUNT(*) as count").
		Where("issue_id = ? AND timestamp > ?", issueID, since).
		Group("bucket").
		Order("bucket").
		Scan(&buckets).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to bucket occurrences hourly",
			r.logger.Args("issue_id", issueID, "error", err))
		return nil, err
	}
	return buckets, nil
}

// DailyCounts buckets an issue's occurrences per day since the given time.
func (r *issueRepo) DailyCounts(issueID string, since time.Time) ([]BucketCount, error) {
	var buckets []BucketCount
	err := r.db.Model(&models.IssueOccurrence{}).
		Select("strftime('%Y-%m-%d', timestamp) as bucket, COUNT(*) as count").
		Where("issue_id = ? AND timestamp > ?", issueID, since).
		Group("bucket").
		Order("bucket").
		Scan(&buckets).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to bucket occurrences daily",
			r.logger.Args("issue_id", issueID, "error", err))
		return nil, err
	}
	return buckets, nil
}

// HourOfDayCounts sums occurrences per hour of day (0-23) for peak analysis.
func (r *issueRepo) HourOfDayCounts(issueID string, since time.Time) ([]HourCount, error) {
	var hours []HourCount
	err := r.db.Model(&models.IssueOccurrence{}).
		Select("CAST(strftime('%H', timestamp) AS INTEGER) as hour, COUNT(*) as count").
		Where("issue_id = ? AND timestamp > ?", issueID, since).
		Group("hour").
		Order("count DESC, hour ASC").
		Scan(&hours).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to bucket occurrences by hour of day",
			r.logger.Args("issue_id", issueID, "error", err))
		return nil, err
	}
	return hours, nil
}

// InTransaction runs fn against a repository bound to one transaction.
// Used by merge, where occurrence re-pointing and issue deletion must land
// together or not at all.
func (r *issueRepo) InTransaction(fn func(IssueRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&issueRepo{db: tx, logger: r.logger})
	})
}
