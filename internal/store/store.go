// Package store implements the content-addressed metadata and cache
// accounting store described in spec.md §4.3: one row per known file,
// thumbnail/view-image path bookkeeping, rating and tag CRUD, and LRU
// eviction driven by an accessed_at column.
//
// Every read is safe for any number of concurrent callers (pgxpool
// multiplexes connections); every write funnels through a single
// application-level mutex so concurrent upserts for the same file_path
// can't interleave into a lost update — the single-writer discipline
// spec.md asks for, layered on top of a connection pool that would
// otherwise happily run writes in parallel. Durability comes from
// Postgres's own WAL, matching the journal_mode=WAL guarantee the
// original SQLite store relied on.
package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store is the metadata/cache store. All query text is loaded once at
// construction, the same pre-loaded-query shape the teacher's internal/db.Db
// uses.
type Store struct {
	log *zap.Logger
	db  db

	writeMu sync.Mutex

	q queries
}

type queries struct {
	selectRecord            string
	selectRating            string
	selectThumbnailPaths    string
	selectThumbnailValidity string
	upsertThumbnailPaths    string
	upsertRating            string
	batchUpdateRatings      string
	batchInsertWithRating   string
	batchEnsureMinimal      string
	selectDirectoryFiles    string
	selectDirectoryFilesRec string
	deleteRecords           string
	setContentHash          string
	renameRecord            string
	upsertExtractedMetadata string
	insertTag               string
	deleteTag               string
	selectTags              string
	selectFilesByTag        string
	selectAllTags           string
	selectTagsInDirectory   string
	selectTotalCacheBytes   string
	selectLRUCandidates     string
	clearCacheEntries       string
	touchAccessed           string
}

// New loads every embedded query and returns a ready-to-use Store.
func New(log *zap.Logger, conn *Connection) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log: log,
		db:  conn,
		q: queries{
			selectRecord:            mustLoad("select_record.sql"),
			selectRating:            mustLoad("select_rating.sql"),
			selectThumbnailPaths:    mustLoad("select_thumbnail_paths.sql"),
			selectThumbnailValidity: mustLoad("select_thumbnail_validity.sql"),
			upsertThumbnailPaths:    mustLoad("upsert_thumbnail_paths.sql"),
			upsertRating:            mustLoad("upsert_rating.sql"),
			batchUpdateRatings:      mustLoad("batch_update_ratings.sql"),
			batchInsertWithRating:   mustLoad("batch_insert_with_rating.sql"),
			batchEnsureMinimal:      mustLoad("batch_ensure_minimal.sql"),
			selectDirectoryFiles:    mustLoad("select_directory_files.sql"),
			selectDirectoryFilesRec: mustLoad("select_directory_files_recursive.sql"),
			deleteRecords:           mustLoad("delete_records.sql"),
			setContentHash:          mustLoad("set_content_hash.sql"),
			renameRecord:            mustLoad("rename_record.sql"),
			upsertExtractedMetadata: mustLoad("upsert_extracted_metadata.sql"),
			insertTag:               mustLoad("insert_tag.sql"),
			deleteTag:               mustLoad("delete_tag.sql"),
			selectTags:              mustLoad("select_tags.sql"),
			selectFilesByTag:        mustLoad("select_files_by_tag.sql"),
			selectAllTags:           mustLoad("select_all_tags.sql"),
			selectTagsInDirectory:   mustLoad("select_tags_in_directory.sql"),
			selectTotalCacheBytes:   mustLoad("select_total_cache_bytes.sql"),
			selectLRUCandidates:     mustLoad("select_lru_candidates.sql"),
			clearCacheEntries:       mustLoad("clear_cache_entries.sql"),
			touchAccessed:           mustLoad("touch_accessed.sql"),
		},
	}, nil
}

func mustLoad(name string) string {
	content, err := sqlFiles.ReadFile("sql/" + name)
	if err != nil {
		panic(fmt.Errorf("store: error reading sql file %s: %w", name, err))
	}
	return string(content)
}

// Migrate runs the schema DDL; idempotent, safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	schema := mustLoad("schema.sql")
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return NewDatabaseError("migrate", err)
	}
	return nil
}

// Get returns the full record for path, or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (*Record, error) {
	row := s.db.QueryRow(ctx, s.q.selectRecord, path)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, convertPgError("get", err)
	}
	return rec, nil
}

// GetRating returns 0 for files with no record, matching the original's
// "fast, non-blocking" contract of never erroring on a cold cache.
func (s *Store) GetRating(ctx context.Context, path string) (int, error) {
	var rating int
	err := s.db.QueryRow(ctx, s.q.selectRating, path).Scan(&rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, NewDatabaseError("get_rating", err)
	}
	return rating, nil
}

// GetThumbnailPaths returns empty strings, not an error, for an unknown path.
func (s *Store) GetThumbnailPaths(ctx context.Context, path string) (ThumbnailPaths, error) {
	var thumb, view *string
	err := s.db.QueryRow(ctx, s.q.selectThumbnailPaths, path).Scan(&thumb, &view)
	if errors.Is(err, pgx.ErrNoRows) {
		return ThumbnailPaths{}, nil
	}
	if err != nil {
		return ThumbnailPaths{}, NewDatabaseError("get_thumbnail_paths", err)
	}
	return ThumbnailPaths{ThumbnailPath: deref(thumb), ViewImagePath: deref(view)}, nil
}

// IsThumbnailValid reports whether the stored thumbnail still matches the
// file's current mtime/size and its path still exists on disk. Existence is
// the caller's responsibility (store has no filesystem access); this method
// only answers the database half of the check.
func (s *Store) IsThumbnailValid(ctx context.Context, path string, mtime float64, fileSize int64) (bool, error) {
	var thumb *string
	var storedMtime float64
	var storedSize int64
	err := s.db.QueryRow(ctx, s.q.selectThumbnailValidity, path).Scan(&thumb, &storedMtime, &storedSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, NewDatabaseError("is_thumbnail_valid", err)
	}
	if thumb == nil || *thumb == "" {
		return false, nil
	}
	return storedMtime >= mtime && storedSize == fileSize, nil
}

// SetThumbnailPaths records where the generated thumbnail/view-image files
// live and their sizes for cache accounting. Either path may be left empty
// to mean "unchanged"; the underlying upsert preserves whichever side isn't
// supplied, matching the original's "preserve existing paths to avoid race
// conditions from other tasks" behavior.
func (s *Store) SetThumbnailPaths(ctx context.Context, path, pathHash string, fileSize int64, mtime float64, thumbnailPath string, thumbnailBytes int64, viewImagePath string, viewImageBytes int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(ctx, s.q.upsertThumbnailPaths,
		path, pathHash, fileSize, mtime,
		nullIfEmpty(thumbnailPath), thumbnailBytes,
		nullIfEmpty(viewImagePath), viewImageBytes,
	)
	if err != nil {
		return NewDatabaseError("set_thumbnail_paths", err)
	}
	return nil
}

// SetRating upserts a rating-only record, used by the wire protocol's
// set_rating command which must stay fast even for files never scanned.
func (s *Store) SetRating(ctx context.Context, path, pathHash string, fileSize int64, mtime float64, rating int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(ctx, s.q.upsertRating, path, pathHash, fileSize, mtime, rating)
	if err != nil {
		return NewDatabaseError("set_rating", err)
	}
	return nil
}

// RecordStat is the minimal per-file stat info batch operations need to
// create a new row without a full metadata extraction pass.
type RecordStat struct {
	FilePath string
	PathHash string
	FileSize int64
	Mtime    float64
}

// BatchSetRatings rates every file in stats in one transaction: existing
// rows get updated, new ones get a minimal record inserted with the given
// rating. Returns how many rows were written in total.
func (s *Store) BatchSetRatings(ctx context.Context, stats []RecordStat, rating int) (int, error) {
	if len(stats) == 0 {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, NewDatabaseError("batch_set_ratings", err)
	}
	defer tx.Rollback(ctx)

	paths := make([]string, len(stats))
	for i, st := range stats {
		paths[i] = st.FilePath
	}

	updated := 0
	rows, err := tx.Query(ctx, s.q.batchUpdateRatings, paths, rating)
	if err != nil {
		return 0, NewDatabaseError("batch_set_ratings: update", err)
	}
	updatedPaths := make(map[string]struct{}, len(paths))
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, NewDatabaseError("batch_set_ratings: scan update", err)
		}
		updatedPaths[p] = struct{}{}
		updated++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, NewDatabaseError("batch_set_ratings: update rows", err)
	}

	var newStats []RecordStat
	for _, st := range stats {
		if _, ok := updatedPaths[st.FilePath]; !ok {
			newStats = append(newStats, st)
		}
	}

	inserted := 0
	if len(newStats) > 0 {
		newPaths := make([]string, len(newStats))
		pathHashes := make([]string, len(newStats))
		sizes := make([]int64, len(newStats))
		mtimes := make([]float64, len(newStats))
		ratings := make([]int, len(newStats))
		for i, st := range newStats {
			newPaths[i] = st.FilePath
			pathHashes[i] = st.PathHash
			sizes[i] = st.FileSize
			mtimes[i] = st.Mtime
			ratings[i] = rating
		}
		rows, err := tx.Query(ctx, s.q.batchInsertWithRating, newPaths, pathHashes, sizes, mtimes, ratings)
		if err != nil {
			return 0, NewDatabaseError("batch_set_ratings: insert", err)
		}
		for rows.Next() {
			inserted++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, NewDatabaseError("batch_set_ratings: insert rows", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, NewDatabaseError("batch_set_ratings: commit", err)
	}

	s.log.Info("batch set ratings", zap.Int("updated", updated), zap.Int("inserted", inserted), zap.Int("requested", len(stats)))
	return updated + inserted, nil
}

// BatchEnsureRecordsExist inserts a minimal row for every stat whose
// file_path isn't already known, leaving existing rows untouched.
func (s *Store) BatchEnsureRecordsExist(ctx context.Context, stats []RecordStat) error {
	if len(stats) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	paths := make([]string, len(stats))
	pathHashes := make([]string, len(stats))
	sizes := make([]int64, len(stats))
	mtimes := make([]float64, len(stats))
	for i, st := range stats {
		paths[i] = st.FilePath
		pathHashes[i] = st.PathHash
		sizes[i] = st.FileSize
		mtimes[i] = st.Mtime
	}

	rows, err := s.db.Query(ctx, s.q.batchEnsureMinimal, paths, pathHashes, sizes, mtimes)
	if err != nil {
		return NewDatabaseError("batch_ensure_records_exist", err)
	}
	inserted := 0
	for rows.Next() {
		inserted++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return NewDatabaseError("batch_ensure_records_exist: rows", err)
	}
	s.log.Info("batch inserted minimal records", zap.Int("inserted", inserted), zap.Int("requested", len(stats)))
	return nil
}

// buildFilteredFilePathsQuery constructs the WHERE clause for
// GetFilteredFilePaths. Pulled out as a pure function so the predicate
// logic is testable without a database.
func buildFilteredFilePathsQuery(textFilter string, starStates []bool) (string, []any) {
	query := "SELECT file_path FROM image_metadata WHERE 1=1"
	args := make([]any, 0, 2)

	if textFilter != "" {
		args = append(args, "%"+textFilter+"%")
		query += fmt.Sprintf(" AND file_path LIKE $%d", len(args))
	}

	var enabled []int
	for i, on := range starStates {
		if on {
			enabled = append(enabled, i)
		}
	}
	switch {
	case len(enabled) == 0:
		query += " AND 1=0"
	case len(enabled) < len(starStates):
		args = append(args, enabled)
		query += fmt.Sprintf(" AND rating = ANY($%d::int[])", len(args))
	}
	return query, args
}

// GetFilteredFilePaths runs the GUI's text + star-rating filter directly in
// the database rather than pulling every row back to filter client-side.
func (s *Store) GetFilteredFilePaths(ctx context.Context, textFilter string, starStates []bool) (map[string]struct{}, error) {
	query, args := buildFilteredFilePathsQuery(textFilter, starStates)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, NewDatabaseError("get_filtered_file_paths", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, NewDatabaseError("get_filtered_file_paths: scan", err)
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// GetDirectoryFiles returns every known file directly inside dir, not its
// subdirectories. dir must not have a trailing slash.
func (s *Store) GetDirectoryFiles(ctx context.Context, dir string) ([]string, error) {
	prefix := dir
	if len(prefix) == 0 || prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	rows, err := s.db.Query(ctx, s.q.selectDirectoryFiles, prefix+"%", prefix)
	if err != nil {
		return nil, NewDatabaseError("get_directory_files", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, NewDatabaseError("get_directory_files: scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetDirectoryFilesRecursive returns every known file anywhere under dir,
// for the GUI's recursive directory-open case.
func (s *Store) GetDirectoryFilesRecursive(ctx context.Context, dir string) ([]string, error) {
	prefix := dir
	if len(prefix) == 0 || prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	rows, err := s.db.Query(ctx, s.q.selectDirectoryFilesRec, prefix+"%")
	if err != nil {
		return nil, NewDatabaseError("get_directory_files_recursive", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, NewDatabaseError("get_directory_files_recursive: scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RemoveRecords deletes every row in paths and returns the cache file paths
// that were attached to them, so the caller (cache manager) can unlink the
// files outside of any database transaction.
func (s *Store) RemoveRecords(ctx context.Context, paths []string) ([]ThumbnailPaths, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.db.Query(ctx, s.q.deleteRecords, paths)
	if err != nil {
		return nil, NewDatabaseError("remove_records", err)
	}
	defer rows.Close()

	var removed []ThumbnailPaths
	for rows.Next() {
		var thumb, view *string
		if err := rows.Scan(&thumb, &view); err != nil {
			return nil, NewDatabaseError("remove_records: scan", err)
		}
		removed = append(removed, ThumbnailPaths{ThumbnailPath: deref(thumb), ViewImagePath: deref(view)})
	}
	s.log.Info("removed records", zap.Int("count", len(removed)), zap.Int("requested", len(paths)))
	return removed, rows.Err()
}

// ExtractedMetadata is the full set of fields a plugin or exiftool pass can
// populate in one shot, mirroring the original's extract_and_store_metadata.
type ExtractedMetadata struct {
	PathHash     string
	ContentHash  string
	FileSize     int64
	Width        int
	Height       int
	Rating       int
	CameraMake   string
	CameraModel  string
	LensModel    string
	FocalLength  float64
	Aperture     float64
	ShutterSpeed string
	ISO          int
	DateTaken    string
	Orientation  int
	ColorSpace   string
	Exif         map[string]any
	Mtime        float64
}

// UpsertExtractedMetadata stores the result of a full metadata extraction
// pass, preserving any already-set thumbnail/view-image/content-hash data
// this extraction pass doesn't know about.
func (s *Store) UpsertExtractedMetadata(ctx context.Context, path string, m ExtractedMetadata) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exifJSON, err := json.Marshal(m.Exif)
	if err != nil {
		return NewValidationError("exif", "could not marshal exif data: "+err.Error())
	}

	_, err = s.db.Exec(ctx, s.q.upsertExtractedMetadata,
		path, m.PathHash, nullIfEmpty(m.ContentHash), m.FileSize, m.Width, m.Height, m.Rating,
		nullIfEmpty(m.CameraMake), nullIfEmpty(m.CameraModel), nullIfEmpty(m.LensModel),
		nullIfZero(m.FocalLength), nullIfZero(m.Aperture), nullIfEmpty(m.ShutterSpeed),
		nullIfZeroInt(m.ISO), nullIfEmpty(m.DateTaken), m.Orientation, nullIfEmpty(m.ColorSpace),
		exifJSON, m.Mtime,
	)
	if err != nil {
		return NewDatabaseError("upsert_extracted_metadata", err)
	}
	return nil
}

func (s *Store) SetContentHash(ctx context.Context, path, contentHash string) error {
	if contentHash == "" {
		return NewValidationError("content_hash", "must not be empty")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tag, err := s.db.Exec(ctx, s.q.setContentHash, path, contentHash)
	if err != nil {
		return NewDatabaseError("set_content_hash", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveRecords atomically renames file_path entries for moved/renamed files.
func (s *Store) MoveRecords(ctx context.Context, moves []Move) (int, error) {
	if len(moves) == 0 {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, NewDatabaseError("move_records", err)
	}
	defer tx.Rollback(ctx)

	updated := 0
	for _, mv := range moves {
		tag, err := tx.Exec(ctx, s.q.renameRecord, mv.OldPath, mv.NewPath)
		if err != nil {
			return updated, NewDatabaseError("move_records", err)
		}
		updated += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return updated, NewDatabaseError("move_records: commit", err)
	}
	s.log.Info("moved records", zap.Int("updated", updated), zap.Int("requested", len(moves)))
	return updated, nil
}

// AddTag attaches a tag to path; idempotent.
func (s *Store) AddTag(ctx context.Context, path, tag string) error {
	if tag == "" {
		return NewValidationError("tag", "must not be empty")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.Exec(ctx, s.q.insertTag, path, tag); err != nil {
		return NewDatabaseError("add_tag", err)
	}
	return nil
}

// RemoveTag detaches a tag from path; a no-op if it wasn't attached.
func (s *Store) RemoveTag(ctx context.Context, path, tag string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.Exec(ctx, s.q.deleteTag, path, tag); err != nil {
		return NewDatabaseError("remove_tag", err)
	}
	return nil
}

func (s *Store) GetTags(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.Query(ctx, s.q.selectTags, path)
	if err != nil {
		return nil, NewDatabaseError("get_tags", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, NewDatabaseError("get_tags: scan", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) GetFilesByTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.db.Query(ctx, s.q.selectFilesByTag, tag)
	if err != nil {
		return nil, NewDatabaseError("get_files_by_tag", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, NewDatabaseError("get_files_by_tag: scan", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ListAllTags returns every distinct tag in use, for the wire protocol's
// get_tags command when called with no directory scope.
func (s *Store) ListAllTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, s.q.selectAllTags)
	if err != nil {
		return nil, NewDatabaseError("list_all_tags", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, NewDatabaseError("list_all_tags: scan", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// ListTagsInDirectory returns every distinct tag attached to a file whose
// path starts with dir, including files in its subdirectories, for the
// wire protocol's directory-scoped get_tags response.
func (s *Store) ListTagsInDirectory(ctx context.Context, dir string) ([]string, error) {
	prefix := dir
	if len(prefix) == 0 || prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	rows, err := s.db.Query(ctx, s.q.selectTagsInDirectory, prefix+"%")
	if err != nil {
		return nil, NewDatabaseError("list_tags_in_directory", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, NewDatabaseError("list_tags_in_directory: scan", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetTotalCacheBytes sums every row's thumbnail+view-image byte accounting,
// the figure the cache size manager refreshes itself from on startup and
// after every eviction pass.
func (s *Store) GetTotalCacheBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, s.q.selectTotalCacheBytes).Scan(&total); err != nil {
		return 0, NewDatabaseError("get_total_cache_bytes", err)
	}
	return total, nil
}

// EvictLRUCache clears thumbnail/view-image paths (but not the metadata
// record itself) from the least-recently-accessed entries until the total
// on-disk cache estimate drops to or below targetBytes. Returns the bytes
// freed and the cleared thumbnail/view paths so the caller can unlink the
// actual files.
func (s *Store) EvictLRUCache(ctx context.Context, targetBytes int64) (int64, []ThumbnailPaths, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.GetTotalCacheBytes(ctx)
	if err != nil {
		return 0, nil, err
	}
	if current <= targetBytes {
		return 0, nil, nil
	}

	rows, err := s.db.Query(ctx, s.q.selectLRUCandidates)
	if err != nil {
		return 0, nil, NewDatabaseError("evict_lru_cache", err)
	}

	var toClear []string
	var cleared []ThumbnailPaths
	var freed int64
	for rows.Next() {
		var path string
		var thumb, view *string
		var thumbBytes, viewBytes int64
		if err := rows.Scan(&path, &thumb, &view, &thumbBytes, &viewBytes); err != nil {
			rows.Close()
			return 0, nil, NewDatabaseError("evict_lru_cache: scan", err)
		}
		toClear = append(toClear, path)
		cleared = append(cleared, ThumbnailPaths{ThumbnailPath: deref(thumb), ViewImagePath: deref(view)})
		freed += thumbBytes + viewBytes
		if current-freed <= targetBytes {
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, NewDatabaseError("evict_lru_cache: rows", err)
	}

	if len(toClear) > 0 {
		if _, err := s.db.Exec(ctx, s.q.clearCacheEntries, toClear); err != nil {
			return 0, nil, NewDatabaseError("evict_lru_cache: clear", err)
		}
	}

	s.log.Info("evicted LRU cache entries", zap.Int("entries", len(toClear)), zap.Int64("freed_bytes", freed))
	return freed, cleared, nil
}

// Touch bumps accessed_at, called whenever a thumbnail/view-image is served
// to the GUI so the LRU ordering reflects actual reads, not just writes.
func (s *Store) Touch(ctx context.Context, path string) error {
	if _, err := s.db.Exec(ctx, s.q.touchAccessed, path); err != nil {
		return NewDatabaseError("touch", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var exifRaw []byte
	err := row.Scan(
		&r.FilePath, &r.PathHash, &r.ContentHash, &r.FileSize, &r.Width, &r.Height, &r.Rating,
		&r.CameraMake, &r.CameraModel, &r.LensModel, &r.FocalLength, &r.Aperture,
		&r.ShutterSpeed, &r.ISO, &r.DateTaken, &r.Orientation, &r.ColorSpace,
		&r.ThumbnailPath, &r.ViewImagePath, &exifRaw, &r.Mtime,
		&r.CreatedAt, &r.UpdatedAt, &r.AccessedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(exifRaw) > 0 {
		if err := json.Unmarshal(exifRaw, &r.ExifData); err != nil {
			r.ExifData = map[string]any{}
		}
	}
	return &r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func nullIfZeroInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
