package database

import (
	"database/sql"
	"time"
)

const selectActions = `
	SELECT id, timestamp, action, operation, path, file_name, output_path,
	       detected_format, size_before, size_after, reason, error_message
	FROM actions
`

// GetRecentActions returns the N most recent events
func (d *HistoryDB) GetRecentActions(limit int) ([]ActionRecord, error) {
	return d.queryActions(selectActions+`
	ORDER BY timestamp DESC, id DESC
	LIMIT ?`, limit)
}

// GetActionsByAction returns events of one action type
func (d *HistoryDB) GetActionsByAction(action string) ([]ActionRecord, error) {
	return d.queryActions(selectActions+`
	WHERE action = ?
	ORDER BY timestamp DESC, id DESC`, action)
}

// GetActionsByPath returns events whose path matches a SQL LIKE pattern
func (d *HistoryDB) GetActionsByPath(pathPattern string) ([]ActionRecord, error) {
	return d.queryActions(selectActions+`
	WHERE path LIKE ?
	ORDER BY timestamp DESC, id DESC`, pathPattern)
}

// GetLargestSavings returns the N rewrites that shrank files the most
func (d *HistoryDB) GetLargestSavings(limit int) ([]ActionRecord, error) {
	return d.queryActions(selectActions+`
	WHERE action IN ('RECOMPRESS', 'CONVERT') AND size_after > 0
	ORDER BY (size_before - size_after) DESC
	LIMIT ?`, limit)
}

// GetBytesSaved returns total bytes saved by rewrites in a time range
func (d *HistoryDB) GetBytesSaved(start, end time.Time) (int64, error) {
	query := `
	SELECT COALESCE(SUM(size_before - size_after), 0)
	FROM actions
	WHERE action IN ('RECOMPRESS', 'CONVERT') AND size_after > 0
	  AND timestamp BETWEEN ? AND ?
	`

	var total int64
	err := d.db.QueryRow(query, start, end).Scan(&total)
	return total, err
}

// ActionStats holds aggregated statistics
type ActionStats struct {
	Recompressed int            `json:"recompressed"`
	Converted    int            `json:"converted"`
	Deleted      int            `json:"deleted"`
	Skipped      int            `json:"skipped"`
	Errors       int            `json:"errors"`
	BytesSaved   int64          `json:"bytes_saved"`
	ByAction     map[string]int `json:"by_action"`
	ByOperation  map[string]int `json:"by_operation"`
	StartDate    time.Time      `json:"start_date"`
	EndDate      time.Time      `json:"end_date"`
}

// GetActionStats returns statistics for the last days
func (d *HistoryDB) GetActionStats(days int) (*ActionStats, error) {
	now := time.Now()
	since := now.AddDate(0, 0, -days)

	stats := &ActionStats{
		StartDate: since,
		EndDate:   now,
	}

	err := d.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN action = 'RECOMPRESS' THEN 1 END),
			COUNT(CASE WHEN action = 'CONVERT' THEN 1 END),
			COUNT(CASE WHEN action = 'DELETE' THEN 1 END),
			COUNT(CASE WHEN action = 'SKIP' THEN 1 END),
			COUNT(CASE WHEN action = 'ERROR' THEN 1 END)
		FROM actions
		WHERE timestamp >= ?
	`, since).Scan(&stats.Recompressed, &stats.Converted, &stats.Deleted, &stats.Skipped, &stats.Errors)
	if err != nil {
		return nil, err
	}

	stats.BytesSaved, err = d.GetBytesSaved(since, now)
	if err != nil {
		return nil, err
	}

	stats.ByAction, err = d.countBy("action", since)
	if err != nil {
		return nil, err
	}

	stats.ByOperation, err = d.countBy("operation", since)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// countBy groups events since a time by column, which must be a trusted column name
func (d *HistoryDB) countBy(column string, since time.Time) (map[string]int, error) {
	rows, err := d.db.Query(`
	SELECT `+column+`, COUNT(*)
	FROM actions
	WHERE timestamp >= ?
	GROUP BY `+column, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}

	return counts, rows.Err()
}

// DeleteOldRecords removes records older than the given number of days
func (d *HistoryDB) DeleteOldRecords(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	result, err := d.db.Exec(`DELETE FROM actions WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (d *HistoryDB) queryActions(query string, args ...interface{}) ([]ActionRecord, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var r ActionRecord
		var fileName, outputPath, format, reason, errMsg sql.NullString

		err := rows.Scan(
			&r.ID, &r.Timestamp, &r.Action, &r.Operation, &r.Path, &fileName,
			&outputPath, &format, &r.SizeBefore, &r.SizeAfter, &reason, &errMsg,
		)
		if err != nil {
			return nil, err
		}

		r.FileName = fileName.String
		r.OutputPath = outputPath.String
		r.DetectedFormat = format.String
		r.Reason = reason.String
		r.ErrorMessage = errMsg.String

		records = append(records, r)
	}

	return records, rows.Err()
}
