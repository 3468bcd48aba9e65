package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	gosync "sync"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/config"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/document"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/event"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/fence"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/sync"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/watcher"
)

// Conn is the host's view of one connected rendering surface. The
// transport layer implements it; the service never sees sockets.
type Conn interface {
	// Surface returns the surface's stable handle.
	Surface() sync.SurfaceID

	// SendUpdate pushes fence-encoded content plus ambient settings.
	SendUpdate(doc document.Identity, text string, settings map[string]any) error

	// SendReject notifies the surface (non-blocking, informational) that
	// its edit was refused.
	SendReject(doc document.Identity, reason string) error

	// SendSaved confirms a completed save.
	SendSaved(doc document.Identity) error
}

// connState tracks one attached surface and the documents it holds open.
type connState struct {
	conn Conn
	docs map[document.Identity]bool
}

// Service owns the host side of the sync protocol: the document store, the
// edit applier, the surface registry and broadcaster, and the external
// file watcher. Transport hands it decoded messages; it hands the registry
// content to push.
type Service struct {
	cfg config.Config
	log *logging.Logger
	bus *event.Bus

	store       *document.Store
	applier     *sync.Applier
	registry    *sync.Registry
	broadcaster *sync.Broadcaster
	watch       *watcher.Watcher

	mu     gosync.Mutex
	conns  map[sync.SurfaceID]*connState
	closed bool

	// pipelines serializes apply-then-broadcast per document, so the
	// registry's last-sent record always reflects the latest applied text.
	pipeMu    gosync.Mutex
	pipelines map[document.Identity]*gosync.Mutex

	done gosync.WaitGroup
}

// NewService creates and starts a sync host service.
func NewService(cfg config.Config, log *logging.Logger, bus *event.Bus) (*Service, error) {
	w, err := watcher.New(cfg.Sync.WatcherDelay(), log)
	if err != nil {
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}

	store := document.NewStore()
	registry := sync.NewRegistry(log)

	s := &Service{
		cfg:         cfg,
		log:         log.WithComponent("host"),
		bus:         bus,
		store:       store,
		applier:     sync.NewApplier(store, log),
		registry:    registry,
		broadcaster: sync.NewBroadcaster(registry, log),
		watch:       w,
		conns:       make(map[sync.SurfaceID]*connState),
		pipelines:   make(map[document.Identity]*gosync.Mutex),
	}

	s.done.Add(1)
	go s.watchLoop()

	return s, nil
}

// Registry exposes the surface registry, mainly for tests and transports
// that need push state.
func (s *Service) Registry() *sync.Registry { return s.registry }

// Store exposes the document store.
func (s *Service) Store() *document.Store { return s.store }

// AttachSurface opens (or joins) the document behind uri and registers the
// surface for it. No content is pushed; the surface signals ready when its
// renderer is up, which triggers the initial forced update.
func (s *Service) AttachSurface(uri string, conn Conn) (document.Identity, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.mu.Unlock()

	id := document.IdentityForURI(uri)
	doc, err := s.store.Get(id)
	if errors.Is(err, document.ErrNotFound) {
		doc, err = s.openDocument(uri)
		if errors.Is(err, document.ErrAlreadyOpen) {
			// A concurrent attach opened it between the lookup and ours;
			// join the document it opened.
			doc, err = s.store.Get(id)
		}
	}
	if err != nil {
		return "", opError("attach", string(id), err)
	}

	surface := conn.Surface()
	if err := s.registry.Register(id, surface, s.senderFor(conn)); err != nil {
		return "", opError("attach", string(surface), err)
	}

	s.mu.Lock()
	st, ok := s.conns[surface]
	if !ok {
		st = &connState{conn: conn, docs: make(map[document.Identity]bool)}
		s.conns[surface] = st
	}
	st.docs[id] = true
	s.mu.Unlock()

	s.publish(event.SurfaceRegistered{Identity: string(id), Surface: string(surface)})
	s.log.Info("surface %s attached to %s", surface, doc.Name())
	return id, nil
}

// DetachSurface removes a surface everywhere and closes documents no other
// surface holds open.
func (s *Service) DetachSurface(surface sync.SurfaceID) {
	s.registry.CloseSurface(surface)

	s.mu.Lock()
	st := s.conns[surface]
	delete(s.conns, surface)
	s.mu.Unlock()

	if st != nil {
		for id := range st.docs {
			if len(s.registry.Surfaces(id)) == 0 {
				s.closeDocument(id)
			}
		}
	}

	s.publish(event.SurfaceClosed{Surface: string(surface)})
	s.log.Info("surface %s detached", surface)
}

// HandleEdit runs the apply→broadcast pipeline for an inbound edit.
//
// The rendered content is fence-decoded back to raw markdown, applied as
// one transactional whole-document replace, and on success re-encoded and
// broadcast to every surface of the document except the origin. A host
// rejection becomes a notification to the origin only; the user's local
// text is never discarded, and the next edit retries naturally.
func (s *Service) HandleEdit(ctx context.Context, surface sync.SurfaceID, id document.Identity, rendered string) error {
	conn, err := s.connFor(surface)
	if err != nil {
		return opError("edit", string(surface), err)
	}

	raw := fence.Decode(rendered)

	// The broadcast must go out before the next edit's apply completes, or
	// an older broadcast could overwrite the registry's last-sent record.
	pipe := s.pipelineFor(id)
	pipe.Lock()
	defer pipe.Unlock()

	applied, err := s.applier.Apply(ctx, id, raw)
	if err != nil {
		if errors.Is(err, sync.ErrApplyRejected) {
			s.rejectEdit(conn, surface, id)
			return nil
		}
		return opError("edit", string(id), err)
	}
	if !applied {
		return nil
	}

	doc, err := s.store.Get(id)
	if err != nil {
		return opError("edit", string(id), err)
	}

	s.publish(event.SyncApplied{Identity: string(id), Surface: string(surface), Revision: doc.Revision()})

	updated := s.broadcaster.Broadcast(id, fence.Encode(raw), surface)
	s.publish(event.SyncBroadcast{Identity: string(id), Origin: string(surface), Updated: updated})
	return nil
}

// rejectEdit turns a host-level refusal into a non-blocking notification
// to the origin surface. The surface keeps its local text; nothing is
// retried; the next edit applies against the fresh state naturally.
func (s *Service) rejectEdit(conn Conn, surface sync.SurfaceID, id document.Identity) {
	s.log.Warn("edit from %s rejected for %s", surface, id)
	if err := conn.SendReject(id, "document changed concurrently"); err != nil {
		s.log.Warn("reject notification to %s failed: %v", surface, err)
	}
	s.publish(event.SyncRejected{Identity: string(id), Surface: string(surface), Reason: "revision conflict"})
}

// HandleReady forces a resend of current content to one surface. This is
// the reconnect/navigate-back path and must succeed even when the content
// matches what was last pushed.
func (s *Service) HandleReady(surface sync.SurfaceID, id document.Identity) error {
	doc, err := s.store.Get(id)
	if err != nil {
		return opError("ready", string(id), err)
	}

	raw, _ := doc.Text()
	if err := s.registry.ForceUpdate(id, surface, fence.Encode(raw)); err != nil {
		return opError("ready", string(surface), err)
	}
	return nil
}

// HandleSave writes the document to its backing file and resets the save
// baseline. The origin surface gets a confirmation.
func (s *Service) HandleSave(ctx context.Context, surface sync.SurfaceID, id document.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := s.connFor(surface)
	if err != nil {
		return opError("save", string(surface), err)
	}
	doc, err := s.store.Get(id)
	if err != nil {
		return opError("save", string(id), err)
	}

	text, _ := doc.Text()
	if err := os.WriteFile(doc.Path(), []byte(text), 0o644); err != nil {
		return opError("save", doc.Path(), err)
	}
	doc.MarkSaved()

	s.publish(event.DocumentSaved{Identity: string(id), Path: doc.Path()})
	if err := conn.SendSaved(id); err != nil {
		s.log.Warn("save confirmation to %s failed: %v", surface, err)
	}
	s.log.Info("saved %s", doc.Name())
	return nil
}

// ApplyMutation is the entry point for collaborators (image persistence,
// rename, resize) that rewrite document text as a side effect. They go
// through the same applier as surface edits, with no private channel, and the
// result is broadcast to every surface, since no surface authored it.
//
// mutate receives the current raw text and returns the replacement plus
// whether anything changed. The replace is revision-guarded: if the
// document moves between the read and the apply, the mutation is rejected
// rather than clobbering newer text.
func (s *Service) ApplyMutation(ctx context.Context, id document.Identity, mutate func(current string) (string, bool)) error {
	doc, err := s.store.Get(id)
	if err != nil {
		return opError("mutate", string(id), err)
	}

	pipe := s.pipelineFor(id)
	pipe.Lock()
	defer pipe.Unlock()

	current, rev := doc.Text()
	newText, changed := mutate(current)
	if !changed {
		return nil
	}

	applied, err := s.applier.ApplyAt(ctx, id, rev, newText)
	if err != nil {
		return opError("mutate", string(id), err)
	}
	if !applied {
		return nil
	}

	s.publish(event.SyncApplied{Identity: string(id), Revision: doc.Revision()})
	updated := s.broadcaster.Broadcast(id, fence.Encode(newText), "")
	s.publish(event.SyncBroadcast{Identity: string(id), Updated: updated})
	return nil
}

// Close shuts the service down.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.watch.Close()
	s.done.Wait()
	return err
}

// openDocument loads a document's file and starts tracking it. A missing
// file opens as an empty document; it comes into existence on first save.
func (s *Service) openDocument(uri string) (*document.Document, error) {
	id := document.IdentityForURI(uri)

	text := ""
	data, err := os.ReadFile(string(id))
	if err == nil {
		text = string(data)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	doc, err := s.store.Open(uri, text)
	if err != nil {
		return nil, err
	}

	// Change notifications confirm pending edits have landed.
	doc.OnChange(func(c document.Change) {
		s.applier.AcknowledgeThrough(c.Identity, c.Text)
		s.publish(event.DocumentReplaced{
			Identity: string(c.Identity),
			Revision: c.Revision,
			External: c.External,
		})
	})

	if err := s.watch.Watch(doc.Path()); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
		s.log.Warn("cannot watch %s: %v", doc.Path(), err)
	}

	s.publish(event.DocumentOpened{Identity: string(id), URI: uri})
	s.log.Info("opened %s", doc.Name())
	return doc, nil
}

// closeDocument stops tracking a document once its last surface detaches.
func (s *Service) closeDocument(id document.Identity) {
	doc, err := s.store.Get(id)
	if err != nil {
		return
	}

	s.watch.Unwatch(doc.Path())
	s.applier.Forget(id)
	_ = s.store.Close(id)

	s.pipeMu.Lock()
	delete(s.pipelines, id)
	s.pipeMu.Unlock()

	s.publish(event.DocumentClosed{Identity: string(id)})
	s.log.Info("closed %s", doc.Name())
}

// watchLoop turns debounced file events into document reloads.
func (s *Service) watchLoop() {
	defer s.done.Done()

	for {
		select {
		case ev, ok := <-s.watch.Events():
			if !ok {
				return
			}
			s.handleExternalChange(ev.Path)

		case err, ok := <-s.watch.Errors():
			if !ok {
				return
			}
			s.log.Warn("watcher error: %v", err)
		}
	}
}

// handleExternalChange reloads a document whose backing file changed on
// disk and broadcasts the fresh content to every surface. Our own saves
// come back through here too; they are dropped by the text comparison.
func (s *Service) handleExternalChange(path string) {
	id := document.IdentityForURI(path)
	doc, err := s.store.Get(id)
	if err != nil {
		return
	}

	pipe := s.pipelineFor(id)
	pipe.Lock()
	defer pipe.Unlock()

	data, err := os.ReadFile(doc.Path())
	if err != nil {
		s.log.Warn("cannot reload %s: %v", doc.Path(), err)
		return
	}
	text := string(data)

	current, _ := doc.Text()
	if text == current {
		return
	}

	rev := doc.Reload(text)
	s.applier.Forget(id)

	s.publish(event.DocumentReloaded{Identity: string(id), Revision: rev})
	s.broadcaster.Broadcast(id, fence.Encode(text), "")
	s.log.Info("reloaded %s after external change", doc.Name())
}

// senderFor adapts a Conn to the registry's Sender, attaching ambient
// settings (timing knobs plus frontmatter metadata) to every push.
func (s *Service) senderFor(conn Conn) sync.Sender {
	return sync.SenderFunc(func(id document.Identity, text string) error {
		return conn.SendUpdate(id, text, s.settingsFor(text))
	})
}

// settingsFor builds the ambient settings attached to an update.
func (s *Service) settingsFor(encoded string) map[string]any {
	settings := map[string]any{
		"debounce_ms":     s.cfg.Sync.DebounceMillis,
		"echo_grace_ms":   s.cfg.Sync.EchoGraceMillis,
		"edit_recency_ms": s.cfg.Sync.EditRecencyMillis,
	}
	meta, _ := fence.ParseMetadata(fence.Decode(encoded))
	if fm := meta.Settings(); fm != nil {
		settings["frontmatter"] = fm
	}
	return settings
}

// pipelineFor returns the per-document pipeline lock, creating it on
// first use.
func (s *Service) pipelineFor(id document.Identity) *gosync.Mutex {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()

	lock, ok := s.pipelines[id]
	if !ok {
		lock = &gosync.Mutex{}
		s.pipelines[id] = lock
	}
	return lock
}

// connFor looks up an attached surface's connection.
func (s *Service) connFor(surface sync.SurfaceID) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.conns[surface]
	if !ok {
		return nil, ErrUnknownSurface
	}
	return st.conn, nil
}

// publish sends an event to the bus, if one is wired.
func (s *Service) publish(evt any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), evt); err != nil {
		s.log.Warn("event publish failed: %v", err)
	}
}
