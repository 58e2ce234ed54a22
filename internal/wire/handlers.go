package wire

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/pipeline"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/sourcejob"
	"github.com/jorgemgr94/imgdaemon/internal/store"
)

func (s *Server) buildHandlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		CmdGetDirectoryFiles:    handleGetDirectoryFiles,
		CmdRequestPreviews:      handleRequestPreviews,
		CmdUpdateViewport:       handleUpdateViewport,
		CmdRequestViewImage:     handleRequestViewImage,
		CmdGetPreviewsStatus:    handleGetPreviewsStatus,
		CmdSetRating:            handleSetRating,
		CmdGetMetadataBatch:     handleGetMetadataBatch,
		CmdGetFilteredFilePaths: handleGetFilteredFilePaths,
		CmdSetTags:              handleSetTags,
		CmdRemoveTags:           handleRemoveTags,
		CmdGetTags:              handleGetTags,
		CmdGetImageTags:         handleGetImageTags,
		CmdMoveRecords:          handleMoveRecords,
		CmdDeleteFiles:          handleDeleteFiles,
		CmdShutdown:             handleShutdown,
	}
}

type directoryFilesRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

// handleGetDirectoryFiles starts a background source-job that discovers
// and schedules work for every file under path, then returns whatever the
// store already knows about that directory so the GUI has something to
// show before the scan finishes. create_gui_tasks_for_file already covers
// thumbnail+metadata+pinned view-image in a single factory, so the
// original's per-file "Stage A/B/C" split collapses to one TaskFactory
// call per item — that collapse is about task creation, not about the
// enumeration producer. The enumeration itself still runs off the worker
// pool: newDirectoryGenerator's os.ReadDir/os.Stat calls are wrapped in
// sourcejob.PrefetchGenerator, which drives them from their own goroutine
// and hands the pooled slice task pre-fetched batches over a channel, so
// the walk's I/O never occupies a scheduler worker.
func handleGetDirectoryFiles(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req directoryFilesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdGetDirectoryFiles, err)
	}

	s.setActiveSession(sessionID)

	gen := newDirectoryGenerator(req.Path, req.Recursive, s.scanOpt)
	job := sourcejob.NewJob(
		directoryJobID("gui_scan", sessionID, req.Path),
		priority.GUIRequestLow,
		0,
		gen,
		s.pipe.CreateGUITasksForFile,
		true,
		nil,
	)
	job.Generator = sourcejob.PrefetchGenerator(job.Generator, job.Done())
	s.runner.Submit(job)

	var files []string
	var lookupErr error
	if req.Recursive {
		files, lookupErr = s.store.GetDirectoryFilesRecursive(ctx, req.Path)
	} else {
		files, lookupErr = s.store.GetDirectoryFiles(ctx, req.Path)
	}
	if lookupErr != nil {
		s.log.Warn("get_directory_files: store lookup failed", zap.String("path", req.Path), zap.Error(lookupErr))
		files = nil
	}
	sort.Strings(files)
	if files == nil {
		files = []string{}
	}
	resp := newSuccessResponse()
	resp["files"] = files
	return resp, nil
}

type requestPreviewsRequest struct {
	ImagePaths []string `json:"image_paths"`
	Priority   int      `json:"priority"`
}

func handleRequestPreviews(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req requestPreviewsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdRequestPreviews, err)
	}
	p := priority.Priority(req.Priority)
	if p == 0 {
		p = priority.GUIRequest
	}
	count := s.pipe.BatchRequestThumbnails(ctx, req.ImagePaths, p, sessionID)
	resp := newSuccessResponse()
	resp["count"] = count
	return resp, nil
}

type updateViewportRequest struct {
	PathsToUpgrade   []string `json:"paths_to_upgrade"`
	PathsToDowngrade []string `json:"paths_to_downgrade"`
}

func handleUpdateViewport(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req updateViewportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdUpdateViewport, err)
	}
	if len(req.PathsToUpgrade) > 0 {
		s.pipe.BatchRequestThumbnails(ctx, req.PathsToUpgrade, priority.GUIRequest, sessionID)
	}
	if len(req.PathsToDowngrade) > 0 {
		s.pipe.DowngradeThumbnailTasks(req.PathsToDowngrade, priority.GUIRequestLow)
	}
	resp := newSuccessResponse()
	resp["count"] = len(req.PathsToUpgrade) + len(req.PathsToDowngrade)
	return resp, nil
}

type requestViewImageRequest struct {
	ImagePath string `json:"image_path"`
}

func handleRequestViewImage(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req requestViewImageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdRequestViewImage, err)
	}
	path, ready := s.pipe.RequestViewImage(ctx, req.ImagePath, sessionID)
	resp := newSuccessResponse()
	if ready {
		resp["view_image_path"] = path
	} else {
		resp["view_image_path"] = nil
	}
	return resp, nil
}

type previewsStatusRequest struct {
	ImagePaths []string `json:"image_paths"`
}

func handleGetPreviewsStatus(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req previewsStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdGetPreviewsStatus, err)
	}
	statuses := s.pipe.CheckThumbnailsStatus(ctx, req.ImagePaths)
	out := make(map[string]any, len(statuses))
	for path, st := range statuses {
		entry := map[string]any{
			"thumbnail_ready": st.Ready,
			"view_image_ready": false,
		}
		if st.Path != "" {
			entry["thumbnail_path"] = st.Path
		}
		if st.Error != "" {
			entry["error"] = st.Error
		}
		out[path] = entry
	}
	resp := newSuccessResponse()
	resp["statuses"] = out
	return resp, nil
}

type setRatingRequest struct {
	ImagePaths []string `json:"image_paths"`
	Rating     int      `json:"rating"`
}

func handleSetRating(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req setRatingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdSetRating, err)
	}
	for _, path := range req.ImagePaths {
		if err := s.pipe.QueueExifRatingWrite(ctx, path, req.Rating); err != nil {
			s.log.Warn("set_rating failed for path", zap.String("path", path), zap.Error(err))
		}
	}
	return newSuccessResponse(), nil
}

type metadataBatchRequest struct {
	ImagePaths []string `json:"image_paths"`
	Priority   int      `json:"priority"`
}

func handleGetMetadataBatch(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req metadataBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdGetMetadataBatch, err)
	}
	out := make(map[string]any, len(req.ImagePaths))
	var missing []string
	for _, path := range req.ImagePaths {
		rec, err := s.store.Get(ctx, path)
		if err != nil || rec == nil {
			missing = append(missing, path)
			continue
		}
		out[path] = recordToMap(rec)
	}
	if len(missing) > 0 {
		p := priority.Priority(req.Priority)
		if p == 0 {
			p = priority.GUIRequest
		}
		s.pipe.RequestMetadataExtraction(missing, p)
	}
	resp := newSuccessResponse()
	resp["records"] = out
	return resp, nil
}

func recordToMap(r *store.Record) map[string]any {
	m := map[string]any{
		"file_path":   r.FilePath,
		"path_hash":   r.PathHash,
		"file_size":   r.FileSize,
		"width":       r.Width,
		"height":      r.Height,
		"rating":      r.Rating,
		"orientation": r.Orientation,
		"mtime":       r.Mtime,
	}
	if r.ContentHash != nil {
		m["content_hash"] = *r.ContentHash
	}
	if r.CameraMake != nil {
		m["camera_make"] = *r.CameraMake
	}
	if r.CameraModel != nil {
		m["camera_model"] = *r.CameraModel
	}
	if r.LensModel != nil {
		m["lens_model"] = *r.LensModel
	}
	if r.FocalLength != nil {
		m["focal_length"] = *r.FocalLength
	}
	if r.Aperture != nil {
		m["aperture"] = *r.Aperture
	}
	if r.ShutterSpeed != nil {
		m["shutter_speed"] = *r.ShutterSpeed
	}
	if r.ISO != nil {
		m["iso"] = *r.ISO
	}
	if r.DateTaken != nil {
		m["date_taken"] = *r.DateTaken
	}
	if r.ColorSpace != nil {
		m["color_space"] = *r.ColorSpace
	}
	if r.ThumbnailPath != nil {
		m["thumbnail_path"] = *r.ThumbnailPath
	}
	if r.ViewImagePath != nil {
		m["view_image_path"] = *r.ViewImagePath
	}
	if r.ExifData != nil {
		m["exif_data"] = r.ExifData
	}
	return m
}

type filteredFilePathsRequest struct {
	TextFilter string   `json:"text_filter"`
	StarStates []bool   `json:"star_states"`
	TagNames   []string `json:"tag_names"`
}

func handleGetFilteredFilePaths(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req filteredFilePathsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdGetFilteredFilePaths, err)
	}
	matched, err := s.store.GetFilteredFilePaths(ctx, req.TextFilter, req.StarStates)
	if err != nil {
		return nil, err
	}

	for _, tag := range req.TagNames {
		tagged, err := s.store.GetFilesByTag(ctx, tag)
		if err != nil {
			return nil, err
		}
		taggedSet := make(map[string]struct{}, len(tagged))
		for _, p := range tagged {
			taggedSet[p] = struct{}{}
		}
		for p := range matched {
			if _, ok := taggedSet[p]; !ok {
				delete(matched, p)
			}
		}
	}

	paths := make([]string, 0, len(matched))
	for p := range matched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	resp := newSuccessResponse()
	resp["paths"] = paths
	return resp, nil
}

type tagsRequest struct {
	ImagePaths []string `json:"image_paths"`
	Tags       []string `json:"tags"`
}

func handleSetTags(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req tagsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdSetTags, err)
	}
	for _, path := range req.ImagePaths {
		for _, tag := range req.Tags {
			if err := s.store.AddTag(ctx, path, tag); err != nil {
				s.log.Warn("set_tags: add tag failed", zap.String("path", path), zap.String("tag", tag), zap.Error(err))
			}
		}
		all, err := s.store.GetTags(ctx, path)
		if err == nil {
			s.pipe.WriteTagsToFile(path, all)
		}
	}
	return newSuccessResponse(), nil
}

func handleRemoveTags(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req tagsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdRemoveTags, err)
	}
	for _, path := range req.ImagePaths {
		for _, tag := range req.Tags {
			if err := s.store.RemoveTag(ctx, path, tag); err != nil {
				s.log.Warn("remove_tags: remove tag failed", zap.String("path", path), zap.String("tag", tag), zap.Error(err))
			}
		}
		all, err := s.store.GetTags(ctx, path)
		if err == nil {
			s.pipe.WriteTagsToFile(path, all)
		}
	}
	return newSuccessResponse(), nil
}

type getTagsRequest struct {
	Directory string `json:"directory"`
}

func handleGetTags(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req getTagsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdGetTags, err)
	}
	global, err := s.store.ListAllTags(ctx)
	if err != nil {
		return nil, err
	}
	resp := newSuccessResponse()
	resp["global_tags"] = global
	if req.Directory != "" {
		dirTags, err := s.store.ListTagsInDirectory(ctx, req.Directory)
		if err != nil {
			return nil, err
		}
		resp["directory_tags"] = dirTags
	} else {
		resp["directory_tags"] = []string{}
	}
	return resp, nil
}

type imageTagsRequest struct {
	ImagePaths []string `json:"image_paths"`
}

func handleGetImageTags(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req imageTagsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdGetImageTags, err)
	}
	out := make(map[string][]string, len(req.ImagePaths))
	for _, path := range req.ImagePaths {
		tags, err := s.store.GetTags(ctx, path)
		if err != nil {
			tags = []string{}
		}
		out[path] = tags
	}
	resp := newSuccessResponse()
	resp["tags"] = out
	return resp, nil
}

type moveRecordsRequest struct {
	Moves []struct {
		OldPath string `json:"old_path"`
		NewPath string `json:"new_path"`
	} `json:"moves"`
}

func handleMoveRecords(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req moveRecordsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdMoveRecords, err)
	}
	moves := make([]store.Move, len(req.Moves))
	for i, m := range req.Moves {
		moves[i] = store.Move{OldPath: m.OldPath, NewPath: m.NewPath}
	}
	count, err := s.store.MoveRecords(ctx, moves)
	if err != nil {
		return nil, err
	}
	resp := newSuccessResponse()
	resp["moved_count"] = count
	return resp, nil
}

type deleteFilesRequest struct {
	ImagePaths []string `json:"image_paths"`
}

// handleDeleteFiles moves each path (and its sidecar, if any) to the trash
// directory and drops its store row in one compound task, then notifies
// listeners which files disappeared.
func handleDeleteFiles(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	var req deleteFilesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, newValidationError(CmdDeleteFiles, err)
	}
	results := s.pipe.ExecuteCompoundTask(ctx, []pipeline.CompoundOperation{
		{Name: "send2trash", Paths: req.ImagePaths},
		{Name: "remove_records", Paths: req.ImagePaths},
	})
	if s.bus != nil {
		s.bus.Publish(notify.Notification{
			Type: notify.FilesRemoved,
			Data: notify.FilesRemovedData{Files: req.ImagePaths},
		})
	}
	resp := newSuccessResponse()
	resp["results"] = results
	return resp, nil
}

func handleShutdown(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error) {
	resp := newSuccessResponse()
	if s.onShutdown != nil {
		go s.onShutdown()
	}
	return resp, nil
}
