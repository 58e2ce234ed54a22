package wire

import "encoding/json"

// Command names the wire protocol recognizes, matching spec.md §6.1's
// command table verbatim.
const (
	CmdGetDirectoryFiles    = "get_directory_files"
	CmdRequestPreviews      = "request_previews"
	CmdUpdateViewport       = "update_viewport"
	CmdRequestViewImage     = "request_view_image"
	CmdGetPreviewsStatus    = "get_previews_status"
	CmdSetRating            = "set_rating"
	CmdGetMetadataBatch     = "get_metadata_batch"
	CmdGetFilteredFilePaths = "get_filtered_file_paths"
	CmdSetTags              = "set_tags"
	CmdRemoveTags           = "remove_tags"
	CmdGetTags              = "get_tags"
	CmdGetImageTags         = "get_image_tags"
	CmdMoveRecords          = "move_records"
	CmdDeleteFiles          = "delete_files"
	CmdShutdown             = "shutdown"
	cmdRegisterNotifier     = "register_notifier"
)

// Status values every response carries.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is the generic inbound JSON frame shape; Body is re-decoded per
// command after schema validation.
type Request struct {
	Command   string          `json:"command"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Body      json.RawMessage `json:"-"`
}

// commandOf returns whichever of Command/Type is set, since
// register_notifier arrives with "type" rather than "command".
func (r Request) commandOf() string {
	if r.Command != "" {
		return r.Command
	}
	return r.Type
}

// Response is the generic outbound JSON frame shape. Data is merged in at
// the top level by handlers via a map rather than nested, to match the
// flat `{status, count}`-style responses in §6.1.
type Response map[string]any

func newSuccessResponse() Response { return Response{"status": StatusSuccess} }

func newErrorResponse(message string) Response {
	return Response{"status": StatusError, "message": message}
}
