package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/config"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/document"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/event"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/sync"
)

// fakeConn records everything the host pushes to one surface.
type fakeConn struct {
	surface sync.SurfaceID

	mu      gosync.Mutex
	updates []string
	rejects []string
	saved   int
}

func (c *fakeConn) Surface() sync.SurfaceID { return c.surface }

func (c *fakeConn) SendUpdate(_ document.Identity, text string, _ map[string]any) error {
	c.mu.Lock()
	c.updates = append(c.updates, text)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SendReject(_ document.Identity, reason string) error {
	c.mu.Lock()
	c.rejects = append(c.rejects, reason)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SendSaved(_ document.Identity) error {
	c.mu.Lock()
	c.saved++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) snapshotUpdates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.updates...)
}

func (c *fakeConn) snapshotRejects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rejects...)
}

func (c *fakeConn) savedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

func newTestService(t *testing.T, bus *event.Bus) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.WatcherDelayMillis = 30

	s, err := NewService(cfg, logging.Discard(), bus)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeTempDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestEditBroadcastsToOtherSurfacesOnly(t *testing.T) {
	// Scenario: s1, s2 open on doc D = "alpha"; s1 edits to "beta".
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	s2 := &fakeConn{surface: "s2"}

	id, err := svc.AttachSurface(path, s1)
	if err != nil {
		t.Fatalf("attach s1 failed: %v", err)
	}
	if _, err := svc.AttachSurface(path, s2); err != nil {
		t.Fatalf("attach s2 failed: %v", err)
	}

	// Surfaces come up and request content.
	if err := svc.HandleReady("s1", id); err != nil {
		t.Fatalf("ready s1 failed: %v", err)
	}
	if err := svc.HandleReady("s2", id); err != nil {
		t.Fatalf("ready s2 failed: %v", err)
	}

	if err := svc.HandleEdit(context.Background(), "s1", id, "beta"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	doc, err := svc.Store().Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	text, _ := doc.Text()
	if text != "beta" {
		t.Errorf("expected document text beta, got %q", text)
	}

	// s2 received alpha (ready) then beta (broadcast); s1 only alpha.
	got2 := s2.snapshotUpdates()
	if len(got2) != 2 || got2[1] != "beta" {
		t.Errorf("expected s2 to receive beta, got %v", got2)
	}
	got1 := s1.snapshotUpdates()
	if len(got1) != 1 || got1[0] != "alpha" {
		t.Errorf("origin must receive nothing beyond ready content, got %v", got1)
	}
}

func TestEditDecodesFenceBeforeApply(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "---\ntitle: Old\n---\n\n# H")

	s1 := &fakeConn{surface: "s1"}
	s2 := &fakeConn{surface: "s2"}
	id, err := svc.AttachSurface(path, s1)
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if _, err := svc.AttachSurface(path, s2); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := svc.HandleReady("s1", id); err != nil {
		t.Fatalf("ready failed: %v", err)
	}

	// The surface sees the fenced form.
	if got := s1.snapshotUpdates(); len(got) != 1 || got[0] != "```yaml\n---\ntitle: Old\n---\n```\n\n# H" {
		t.Fatalf("expected fenced content on ready, got %v", got)
	}

	// The user edits the title inside the fenced block.
	edited := "```yaml\n---\ntitle: New\n---\n```\n\n# H"
	if err := svc.HandleEdit(context.Background(), "s1", id, edited); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	doc, _ := svc.Store().Get(id)
	text, _ := doc.Text()
	if text != "---\ntitle: New\n---\n\n# H" {
		t.Errorf("expected decoded raw markdown in the buffer, got %q", text)
	}

	// The other surface receives the canonical fenced form.
	got := s2.snapshotUpdates()
	if len(got) != 1 || got[0] != edited {
		t.Errorf("expected s2 to receive re-encoded content, got %v", got)
	}
}

func TestEditIdenticalTextBroadcastsNothing(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	s2 := &fakeConn{surface: "s2"}
	id, _ := svc.AttachSurface(path, s1)
	_, _ = svc.AttachSurface(path, s2)

	if err := svc.HandleEdit(context.Background(), "s1", id, "alpha"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if got := s2.snapshotUpdates(); len(got) != 0 {
		t.Errorf("no-op edit must not broadcast, got %v", got)
	}
}

func TestReadyForcesResend(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	id, _ := svc.AttachSurface(path, s1)

	if err := svc.HandleReady("s1", id); err != nil {
		t.Fatalf("ready failed: %v", err)
	}
	// Reconnect: same content must be pushed again.
	if err := svc.HandleReady("s1", id); err != nil {
		t.Fatalf("second ready failed: %v", err)
	}
	if got := s1.snapshotUpdates(); len(got) != 2 {
		t.Errorf("expected 2 forced pushes, got %v", got)
	}
}

func TestSaveWritesFileAndConfirms(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	id, _ := svc.AttachSurface(path, s1)

	if err := svc.HandleEdit(context.Background(), "s1", id, "beta"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	doc, _ := svc.Store().Get(id)
	if !doc.Dirty() {
		t.Fatal("expected dirty before save")
	}

	if err := svc.HandleSave(context.Background(), "s1", id); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "beta" {
		t.Errorf("expected beta on disk, got %q", data)
	}
	if doc.Dirty() {
		t.Error("expected clean after save")
	}
	if s1.savedCount() != 1 {
		t.Errorf("expected save confirmation, got %d", s1.savedCount())
	}
}

func TestExternalChangeReloadsAndBroadcasts(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	id, _ := svc.AttachSurface(path, s1)
	if err := svc.HandleReady("s1", id); err != nil {
		t.Fatalf("ready failed: %v", err)
	}

	// Another program rewrites the file.
	if err := os.WriteFile(path, []byte("external"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := s1.snapshotUpdates()
		if len(got) >= 2 && got[len(got)-1] == "external" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for reload broadcast, have %v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}

	doc, _ := svc.Store().Get(id)
	if doc.Dirty() {
		t.Error("reloaded document should be clean")
	}
}

func TestApplyMutationSharesApplyPath(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "see ![img](/tmp/pending.png)")

	s1 := &fakeConn{surface: "s1"}
	id, _ := svc.AttachSurface(path, s1)
	if err := svc.HandleReady("s1", id); err != nil {
		t.Fatalf("ready failed: %v", err)
	}

	// The image collaborator substitutes the persisted path.
	err := svc.ApplyMutation(context.Background(), id, func(current string) (string, bool) {
		return "see ![img](assets/final.png)", true
	})
	if err != nil {
		t.Fatalf("mutation failed: %v", err)
	}

	doc, _ := svc.Store().Get(id)
	text, _ := doc.Text()
	if text != "see ![img](assets/final.png)" {
		t.Errorf("expected substituted text, got %q", text)
	}

	// No origin: every surface gets the substitution.
	got := s1.snapshotUpdates()
	if len(got) != 2 || got[1] != "see ![img](assets/final.png)" {
		t.Errorf("expected broadcast of substitution, got %v", got)
	}
}

func TestApplyMutationRejectedOnConcurrentChange(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	id, _ := svc.AttachSurface(path, s1)

	doc, _ := svc.Store().Get(id)

	// The document moves while the mutation is being computed.
	err := svc.ApplyMutation(context.Background(), id, func(current string) (string, bool) {
		doc.Reload("raced ahead")
		return current + " mutated", true
	})
	if !errors.Is(err, sync.ErrApplyRejected) {
		t.Fatalf("expected ErrApplyRejected, got %v", err)
	}

	text, _ := doc.Text()
	if text != "raced ahead" {
		t.Errorf("rejected mutation must not land, got %q", text)
	}
}

func TestRejectEditNotifiesOriginOnly(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	s2 := &fakeConn{surface: "s2"}
	id, _ := svc.AttachSurface(path, s1)
	_, _ = svc.AttachSurface(path, s2)

	svc.rejectEdit(s1, "s1", id)

	if got := s1.snapshotRejects(); len(got) != 1 {
		t.Errorf("expected reject notification on origin, got %v", got)
	}
	if got := s2.snapshotRejects(); len(got) != 0 {
		t.Errorf("reject must not reach other surfaces, got %v", got)
	}
	// No update was pushed anywhere: the user's local text survives.
	if got := s1.snapshotUpdates(); len(got) != 0 {
		t.Errorf("reject must not push content, got %v", got)
	}
}

func TestDetachClosesOrphanedDocument(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	s2 := &fakeConn{surface: "s2"}
	id, _ := svc.AttachSurface(path, s1)
	_, _ = svc.AttachSurface(path, s2)

	svc.DetachSurface("s1")
	if _, err := svc.Store().Get(id); err != nil {
		t.Fatalf("document must stay open while s2 holds it: %v", err)
	}

	svc.DetachSurface("s2")
	if _, err := svc.Store().Get(id); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("expected document closed after last detach, got %v", err)
	}
}

func TestEventOrdering(t *testing.T) {
	bus := event.NewBus()
	var topics []event.Topic
	_, _ = bus.SubscribeFunc("sync.**", func(_ context.Context, evt any) error {
		topics = append(topics, evt.(event.TopicProvider).EventTopic())
		return nil
	})

	svc := newTestService(t, bus)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	id, _ := svc.AttachSurface(path, s1)

	if err := svc.HandleEdit(context.Background(), "s1", id, "beta"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	if len(topics) != 2 || topics[0] != event.TopicSyncApplied || topics[1] != event.TopicSyncBroadcast {
		t.Errorf("expected applied then broadcast, got %v", topics)
	}
}

func TestSettingsCarryFrontmatterMetadata(t *testing.T) {
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "---\ntitle: Spec\n---\n\nbody")

	var gotSettings map[string]any
	var mu gosync.Mutex
	conn := &settingsConn{fakeConn: fakeConn{surface: "s1"}, record: func(s map[string]any) {
		mu.Lock()
		gotSettings = s
		mu.Unlock()
	}}

	id, err := svc.AttachSurface(path, conn)
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := svc.HandleReady("s1", id); err != nil {
		t.Fatalf("ready failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSettings == nil {
		t.Fatal("expected settings on update")
	}
	if gotSettings["debounce_ms"] != config.Default().Sync.DebounceMillis {
		t.Errorf("expected debounce setting, got %v", gotSettings["debounce_ms"])
	}
	fm, ok := gotSettings["frontmatter"].(map[string]any)
	if !ok || fm["title"] != "Spec" {
		t.Errorf("expected frontmatter title in settings, got %v", gotSettings["frontmatter"])
	}
}

// settingsConn additionally captures the settings of each update.
type settingsConn struct {
	fakeConn
	record func(map[string]any)
}

func (c *settingsConn) SendUpdate(id document.Identity, text string, settings map[string]any) error {
	c.record(settings)
	return c.fakeConn.SendUpdate(id, text, settings)
}

func TestConcurrentEditsLeaveObserverCurrent(t *testing.T) {
	// Two surfaces race edits against the same document; once both settle,
	// the observer's last-received content and the registry's last-sent
	// record must match the document's final text. Interleaving an older
	// broadcast after a newer one would poison both.
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	s1 := &fakeConn{surface: "s1"}
	s2 := &fakeConn{surface: "s2"}
	obs := &fakeConn{surface: "obs"}

	id, err := svc.AttachSurface(path, s1)
	if err != nil {
		t.Fatalf("attach s1 failed: %v", err)
	}
	if _, err := svc.AttachSurface(path, s2); err != nil {
		t.Fatalf("attach s2 failed: %v", err)
	}
	if _, err := svc.AttachSurface(path, obs); err != nil {
		t.Fatalf("attach obs failed: %v", err)
	}

	texts := []string{"one", "two", "three", "four", "five", "six"}
	var wg gosync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		origin := sync.SurfaceID("s1")
		if i%2 == 1 {
			origin = "s2"
		}
		go func(origin sync.SurfaceID, text string) {
			defer wg.Done()
			_ = svc.HandleEdit(context.Background(), origin, id, text)
		}(origin, text)
	}
	wg.Wait()

	doc, err := svc.Store().Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	final, _ := doc.Text()

	updates := obs.snapshotUpdates()
	if len(updates) == 0 {
		t.Fatal("observer received no updates")
	}
	if got := updates[len(updates)-1]; got != final {
		t.Errorf("observer's last update is %q, document holds %q", got, final)
	}
	last, ok := svc.Registry().LastSent(id, "obs")
	if !ok || last != final {
		t.Errorf("last-sent record is %q, document holds %q", last, final)
	}
}

func TestConcurrentAttachSharesOneDocument(t *testing.T) {
	// Several surfaces attach to the same unopened document at once; every
	// attach must succeed and join the single open instance.
	svc := newTestService(t, nil)
	path := writeTempDoc(t, "d.md", "alpha")

	const n = 8
	var wg gosync.WaitGroup
	errs := make([]error, n)
	ids := make([]document.Identity, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{surface: sync.SurfaceID(string(rune('a' + i)))}
			ids[i], errs[i] = svc.AttachSurface(path, conn)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("attach %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("attach %d joined %q, expected %q", i, ids[i], ids[0])
		}
	}
	if got := len(svc.Registry().Surfaces(ids[0])); got != n {
		t.Errorf("expected %d registered surfaces, got %d", n, got)
	}
}
