package loader

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	pkerrors "github.com/plugkit/plugkit/errors"
)

type fakeModule struct {
	path string
}

func (m *fakeModule) Path() string { return m.path }

// fakeOpener counts physical transitions and can be told to fail.
type fakeOpener struct {
	mu       sync.Mutex
	opens    int
	closes   int
	openErr  error
	closeErr error
	resident map[string]bool
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{resident: make(map[string]bool)}
}

func (f *fakeOpener) Open(_ context.Context, path string) (Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens++
	f.resident[path] = true
	return &fakeModule{path: path}, nil
}

func (f *fakeOpener) Close(_ context.Context, mod Module) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closes++
	delete(f.resident, mod.Path())
	return nil
}

func (f *fakeOpener) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnLibraryEvent(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) snapshot() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

func newTestHandle(t *testing.T, reg *Registry, path string, onDemand bool) *Handle {
	t.Helper()
	h, err := NewHandle(context.Background(), reg, path, onDemand)
	if err != nil {
		t.Fatalf("NewHandle(%q): %v", path, err)
	}
	return h
}

func TestRegistry_OpenExactlyOnceAtFirstOwner(t *testing.T) {
	ctx := context.Background()
	op := newFakeOpener()
	reg := NewRegistry(op)

	a := newTestHandle(t, reg, "libfoo.so", true)
	b := newTestHandle(t, reg, "libfoo.so", true)

	if _, err := reg.Acquire(ctx, "libfoo.so", a); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if _, err := reg.Acquire(ctx, "libfoo.so", b); err != nil {
		t.Fatalf("acquire b: %v", err)
	}

	if opens, _ := op.counts(); opens != 1 {
		t.Errorf("opens = %d, want 1", opens)
	}
	if got := reg.OwnerCount("libfoo.so"); got != 2 {
		t.Errorf("OwnerCount = %d, want 2", got)
	}
}

func TestRegistry_CloseExactlyOnceAtLastOwner(t *testing.T) {
	ctx := context.Background()
	op := newFakeOpener()
	reg := NewRegistry(op)

	a := newTestHandle(t, reg, "libfoo.so", true)
	b := newTestHandle(t, reg, "libfoo.so", true)
	reg.Acquire(ctx, "libfoo.so", a)
	reg.Acquire(ctx, "libfoo.so", b)

	if err := reg.Release(ctx, "libfoo.so", a); err != nil {
		t.Fatalf("release a: %v", err)
	}
	if _, closes := op.counts(); closes != 0 {
		t.Errorf("closes after first release = %d, want 0", closes)
	}
	if !reg.IsLoadedByAnybody("libfoo.so") {
		t.Error("library should still be loaded while b owns it")
	}

	if err := reg.Release(ctx, "libfoo.so", b); err != nil {
		t.Fatalf("release b: %v", err)
	}
	if _, closes := op.counts(); closes != 1 {
		t.Errorf("closes after last release = %d, want 1", closes)
	}
	if reg.IsLoadedByAnybody("libfoo.so") {
		t.Error("library should be unloaded after last release")
	}
}

func TestRegistry_AcquireOpenErrorLeavesOwnerSetUntouched(t *testing.T) {
	ctx := context.Background()
	op := newFakeOpener()
	boom := stderrors.New("no such file")
	op.openErr = boom
	reg := NewRegistry(op)

	h := newTestHandle(t, reg, "libmissing.so", true)
	if _, err := reg.Acquire(ctx, "libmissing.so", h); !stderrors.Is(err, boom) {
		t.Fatalf("expected open error to propagate unmodified, got %v", err)
	}
	if reg.IsLoadedByAnybody("libmissing.so") {
		t.Error("failed open must not record an owner")
	}
	if reg.IsLoaded("libmissing.so", h) {
		t.Error("failed open must not attribute the path to the handle")
	}
}

func TestRegistry_ReleaseByNonOwner(t *testing.T) {
	ctx := context.Background()
	op := newFakeOpener()
	reg := NewRegistry(op)

	owner := newTestHandle(t, reg, "libfoo.so", true)
	stranger := newTestHandle(t, reg, "libfoo.so", true)
	reg.Acquire(ctx, "libfoo.so", owner)

	err := reg.Release(ctx, "libfoo.so", stranger)
	if !stderrors.Is(err, pkerrors.NotOwned("libfoo.so")) {
		t.Fatalf("expected not_owned error, got %v", err)
	}
	if !reg.IsLoadedByAnybody("libfoo.so") {
		t.Error("owner's claim must survive a stranger's release")
	}

	if err := reg.Release(ctx, "libnever.so", stranger); !stderrors.Is(err, pkerrors.NotOwned("libnever.so")) {
		t.Fatalf("expected not_owned error for unknown path, got %v", err)
	}
}

func TestRegistry_LoadedPaths(t *testing.T) {
	ctx := context.Background()
	op := newFakeOpener()
	reg := NewRegistry(op)

	h := newTestHandle(t, reg, "", true)
	reg.Acquire(ctx, "libzeta.so", h)
	reg.Acquire(ctx, "libalpha.so", h)

	got := reg.LoadedPaths()
	want := []string{"libalpha.so", "libzeta.so"}
	if len(got) != len(want) {
		t.Fatalf("LoadedPaths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LoadedPaths = %v, want %v", got, want)
		}
	}
}

func TestRegistry_Observers(t *testing.T) {
	ctx := context.Background()
	op := newFakeOpener()
	reg := NewRegistry(op)
	obs := &recordingObserver{}
	reg.Subscribe(obs)

	h := newTestHandle(t, reg, "libfoo.so", true)
	if err := h.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Unload(ctx); err != nil {
		t.Fatal(err)
	}

	events := obs.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[0].Type != EventLoaded || events[0].Owners != 1 {
		t.Errorf("first event = %+v, want EventLoaded with Owners 1", events[0])
	}
	if events[1].Type != EventUnloaded {
		t.Errorf("second event = %+v, want EventUnloaded", events[1])
	}

	reg.Unsubscribe(obs)
	h.Load(ctx)
	if len(obs.snapshot()) != 2 {
		t.Error("should not receive events after Unsubscribe")
	}
}

func TestRegistry_UnmanagedInstanceDiagnostic(t *testing.T) {
	op := newFakeOpener()
	reg := NewRegistry(op)
	obs := &recordingObserver{}
	reg.Subscribe(obs)

	if reg.HasUnmanagedInstanceBeenCreated() {
		t.Fatal("diagnostic must default to false")
	}

	reg.NoteUnmanagedInstance()
	reg.NoteUnmanagedInstance()

	if !reg.HasUnmanagedInstanceBeenCreated() {
		t.Error("diagnostic should be set after NoteUnmanagedInstance")
	}
	if got := reg.UnmanagedInstanceCount(); got != 2 {
		t.Errorf("UnmanagedInstanceCount = %d, want 2", got)
	}

	events := obs.snapshot()
	if len(events) != 2 || events[0].Type != EventUnmanagedInstance {
		t.Errorf("expected 2 EventUnmanagedInstance events, got %v", events)
	}

	reg.SetUnmanagedInstanceBeenCreated(false)
	if reg.HasUnmanagedInstanceBeenCreated() {
		t.Error("reset should clear the diagnostic")
	}
	reg.SetUnmanagedInstanceBeenCreated(true)
	if got := reg.UnmanagedInstanceCount(); got != 1 {
		t.Errorf("forcing the flag should record a single instance, got %d", got)
	}
}

func TestRegistry_ConcurrentAcquireRelease(t *testing.T) {
	ctx := context.Background()
	op := newFakeOpener()
	reg := NewRegistry(op)

	const workers = 16
	var wg sync.WaitGroup
	handles := make([]*Handle, workers)
	for i := range handles {
		handles[i] = newTestHandle(t, reg, "libshared.so", true)
	}

	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := reg.Acquire(ctx, "libshared.so", h); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if err := reg.Release(ctx, "libshared.so", h); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}(h)
	}
	wg.Wait()

	if reg.IsLoadedByAnybody("libshared.so") {
		t.Error("library should be unloaded after all releases")
	}
	opens, closes := op.counts()
	if opens != closes {
		t.Errorf("opens (%d) and closes (%d) must balance", opens, closes)
	}
}
