// Package wire implements the Unix-socket wire protocol server described
// in spec.md §4.7 and §6.1: one goroutine per accepted connection, framed
// JSON/binary request-response, a register_notifier handshake that
// upgrades a connection into the notification fan-out set, and a single
// tracked active_gui_session_id that gates session-scoped notifications
// and demotes orphaned source-jobs on disconnect. It corresponds to the
// original's SocketServer.
package wire

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/pipeline"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/sourcejob"
	"github.com/jorgemgr94/imgdaemon/internal/store"
)

// Store is the narrow persistence surface handlers need.
type Store interface {
	Get(ctx context.Context, path string) (*store.Record, error)
	GetFilteredFilePaths(ctx context.Context, textFilter string, starStates []bool) (map[string]struct{}, error)
	GetFilesByTag(ctx context.Context, tag string) ([]string, error)
	GetDirectoryFiles(ctx context.Context, dir string) ([]string, error)
	GetDirectoryFilesRecursive(ctx context.Context, dir string) ([]string, error)
	MoveRecords(ctx context.Context, moves []store.Move) (int, error)
	AddTag(ctx context.Context, path, tag string) error
	RemoveTag(ctx context.Context, path, tag string) error
	GetTags(ctx context.Context, path string) ([]string, error)
	ListAllTags(ctx context.Context) ([]string, error)
	ListTagsInDirectory(ctx context.Context, dir string) ([]string, error)
}

// Pipeline is the narrow orchestrator surface handlers need; satisfied by
// *pipeline.Orchestrator.
type Pipeline interface {
	RequestThumbnail(ctx context.Context, path string, p priority.Priority, guiSessionID string) bool
	BatchRequestThumbnails(ctx context.Context, paths []string, p priority.Priority, guiSessionID string) int
	RequestViewImage(ctx context.Context, path, guiSessionID string) (string, bool)
	DowngradeThumbnailTasks(paths []string, target priority.Priority)
	CheckThumbnailsStatus(ctx context.Context, paths []string) map[string]pipeline.ThumbnailStatus
	RequestMetadataExtraction(paths []string, p priority.Priority)
	QueueExifRatingWrite(ctx context.Context, path string, rating int) error
	WriteTagsToFile(path string, tags []string) bool
	ExecuteCompoundTask(ctx context.Context, ops []pipeline.CompoundOperation) map[string]pipeline.OperationResult
	SetActiveSession(sessionID string)
	CreateGUITasksForFile(path string, p priority.Priority) []sourcejob.TaskSpec
}

// Runner is the narrow source-job surface handlers need; satisfied by
// *sourcejob.Runner.
type Runner interface {
	Submit(job *sourcejob.Job)
	DemoteOnDisconnect(sessionID string) int
}

// Bus is the narrow notification surface handlers need; satisfied by
// *notify.Bus.
type Bus interface {
	Publish(notify.Notification)
	Subscribe() chan notify.Notification
	Unsubscribe(chan notify.Notification)
	SetActiveSession(sessionID string)
}

// Server accepts connections on a Unix-domain socket and dispatches each
// framed request to a command handler. One instance is shared by the whole
// daemon; Serve blocks until Shutdown or a listener error.
type Server struct {
	log        *zap.Logger
	socketPath string

	store   Store
	pipe    Pipeline
	runner  Runner
	bus     Bus
	scanOpt scannerOptions

	schemas map[string]*jsonschema.Schema
	handler map[string]handlerFunc

	onShutdown func()

	mu            sync.Mutex
	activeSession string
	notifierCount map[string]int

	listener net.Listener
	wg       sync.WaitGroup
	stop     chan struct{}
}

// handlerFunc answers one decoded request body, returning the fields to
// merge into the success response.
type handlerFunc func(ctx context.Context, s *Server, sessionID string, body []byte) (Response, error)

// Config bundles the scan-gating knobs Server needs to build directory
// walkers for get_directory_files, mirroring DirectoryScanner's
// construction in the original.
type Config struct {
	SocketPath          string
	MinFileSize         int64
	IgnorePatterns      []string
	SupportedExtensions []string
}

// NewServer compiles every command schema once and wires dependencies.
// onShutdown is invoked (and the listener closed) when a client sends the
// shutdown command; it should trigger the daemon's own graceful-shutdown
// sequence.
func NewServer(log *zap.Logger, cfg Config, st Store, pipe Pipeline, runner Runner, bus Bus, onShutdown func()) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	exts := make(map[string]struct{}, len(cfg.SupportedExtensions))
	for _, e := range cfg.SupportedExtensions {
		exts[e] = struct{}{}
	}

	s := &Server{
		log:        log,
		socketPath: cfg.SocketPath,
		store:      st,
		pipe:       pipe,
		runner:     runner,
		bus:        bus,
		scanOpt: scannerOptions{
			MinFileSize:         cfg.MinFileSize,
			IgnorePatterns:      cfg.IgnorePatterns,
			SupportedExtensions: exts,
			BatchSize:           10,
		},
		schemas:       schemas,
		onShutdown:    onShutdown,
		notifierCount: make(map[string]int),
		stop:          make(chan struct{}),
	}
	s.handler = s.buildHandlerTable()
	return s, nil
}

// Listen binds the Unix socket, removing a stale one left by a previous
// unclean exit first.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return err
		}
	}
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = l
	s.log.Info("wire protocol server listening", zap.String("socket", s.socketPath))
	return nil
}

// Serve accepts connections until Shutdown closes the listener. Each
// connection is handled on its own goroutine.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.log.Warn("accept failed", zap.Error(err))
				return
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown closes the listener and waits for in-flight connections to
// finish their current request.
func (s *Server) Shutdown() {
	close(s.stop)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) setActiveSession(sessionID string) {
	s.mu.Lock()
	s.activeSession = sessionID
	s.mu.Unlock()
	if s.pipe != nil {
		s.pipe.SetActiveSession(sessionID)
	}
	if s.bus != nil {
		s.bus.SetActiveSession(sessionID)
	}
}

func (s *Server) getActiveSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSession
}

// registerNotifier tracks one more notifier connection for sessionID.
func (s *Server) registerNotifier(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	s.notifierCount[sessionID]++
	s.mu.Unlock()
}

// unregisterNotifier drops one notifier connection for sessionID. If that
// was the session's last notifier and it's still the active session, the
// active session is cleared. Matching source-jobs are demoted on every
// notifier disconnect for the session, per spec.md §4.7.
func (s *Server) unregisterNotifier(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	s.notifierCount[sessionID]--
	last := s.notifierCount[sessionID] <= 0
	if last {
		delete(s.notifierCount, sessionID)
	}
	wasActive := s.activeSession == sessionID
	s.mu.Unlock()

	if last && wasActive {
		s.setActiveSession("")
	}
	if s.runner != nil {
		if n := s.runner.DemoteOnDisconnect(sessionID); n > 0 {
			s.log.Info("demoted source jobs on disconnect",
				zap.String("session_id", sessionID), zap.Int("count", n))
		}
	}
}
