package paramsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/paramsync/internal/param"
	"github.com/kalambet/paramsync/internal/prefs"
	"github.com/kalambet/paramsync/internal/remote"
)

const testNS = "/tango"

var roverSchema = param.MustSchema(
	param.Spec{Name: "enabled", Type: param.Bool},
	param.Spec{Name: "retry_count", Type: param.IntAsString},
	param.Spec{Name: "device_name", Type: param.String},
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openLocal(t *testing.T) *prefs.SQLiteStore {
	t.Helper()
	s, err := prefs.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSync(local prefs.Store, reg remote.Registry) *Synchronizer {
	return New(roverSchema, local, remote.NewAccessor(reg, testNS), WithLogger(quietLogger))
}

// flakyRegistry wraps a Registry and fails calls on selected qualified names.
type flakyRegistry struct {
	remote.Registry
	failGet map[string]error
	failSet map[string]error
	onSet   func(name string)
}

func (f *flakyRegistry) GetBool(ctx context.Context, name string, def bool) (bool, error) {
	if err := f.failGet[name]; err != nil {
		return def, err
	}
	return f.Registry.GetBool(ctx, name, def)
}

func (f *flakyRegistry) GetInt(ctx context.Context, name string, def int) (int, error) {
	if err := f.failGet[name]; err != nil {
		return def, err
	}
	return f.Registry.GetInt(ctx, name, def)
}

func (f *flakyRegistry) GetString(ctx context.Context, name string, def string) (string, error) {
	if err := f.failGet[name]; err != nil {
		return def, err
	}
	return f.Registry.GetString(ctx, name, def)
}

func (f *flakyRegistry) Set(ctx context.Context, name string, value any) error {
	if err := f.failSet[name]; err != nil {
		return err
	}
	if err := f.Registry.Set(ctx, name, value); err != nil {
		return err
	}
	if f.onSet != nil {
		f.onSet(name)
	}
	return nil
}

// rejectingStore accepts edits but refuses every commit.
type rejectingStore struct {
	prefs.Store
}

func (r rejectingStore) Edit() prefs.Editor { return rejectingEditor{r.Store.Edit()} }

type rejectingEditor struct{ prefs.Editor }

func (e rejectingEditor) Commit() error { return errors.New("disk full") }

func localEntries(t *testing.T, s prefs.Store) map[string]string {
	t.Helper()
	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	out := make(map[string]string, len(all))
	for _, e := range all {
		out[e.Key] = e.Kind + ":" + e.Value
	}
	return out
}

func TestPullScenario(t *testing.T) {
	ctx := context.Background()
	reg := remote.NewMemoryRegistry()
	reg.Set(ctx, "/tango/enabled", true)
	reg.Set(ctx, "/tango/retry_count", 5)
	reg.Set(ctx, "/tango/device_name", "rover1")

	local := openLocal(t)
	if err := newSync(local, reg).Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	want := map[string]string{
		"enabled":     "bool:true",
		"retry_count": "string:5",
		"device_name": "string:rover1",
	}
	if diff := cmp.Diff(want, localEntries(t, local)); diff != "" {
		t.Errorf("local store mismatch (-want +got):\n%s", diff)
	}
}

// TestPullDefaults verifies absent registry values become type defaults locally.
func TestPullDefaults(t *testing.T) {
	local := openLocal(t)
	if err := newSync(local, remote.NewMemoryRegistry()).Pull(context.Background()); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	want := map[string]string{
		"enabled":     "bool:false",
		"retry_count": "string:0",
		"device_name": "string:",
	}
	if diff := cmp.Diff(want, localEntries(t, local)); diff != "" {
		t.Errorf("local store mismatch (-want +got):\n%s", diff)
	}
}

// TestPullAtomic verifies a pass that fails part way changes no local key.
func TestPullAtomic(t *testing.T) {
	ctx := context.Background()
	local := openLocal(t)
	if err := local.Edit().PutBool("enabled", false).PutString("retry_count", "1").Commit(); err != nil {
		t.Fatal(err)
	}
	before := localEntries(t, local)

	mem := remote.NewMemoryRegistry()
	mem.Set(ctx, "/tango/enabled", true)
	mem.Set(ctx, "/tango/retry_count", 9)
	mem.Set(ctx, "/tango/device_name", "rover9")
	reg := &flakyRegistry{
		Registry: mem,
		failGet:  map[string]error{"/tango/device_name": remote.ErrSessionUnavailable},
	}

	err := newSync(local, reg).Pull(ctx)
	if !errors.Is(err, remote.ErrSessionUnavailable) {
		t.Fatalf("Pull error = %v, want ErrSessionUnavailable", err)
	}
	if diff := cmp.Diff(before, localEntries(t, local)); diff != "" {
		t.Errorf("local store changed by failed pull (-before +after):\n%s", diff)
	}
}

func TestPullCancelledContext(t *testing.T) {
	local := openLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newSync(local, remote.NewMemoryRegistry()).Pull(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Pull error = %v, want context.Canceled", err)
	}
	if got := localEntries(t, local); len(got) != 0 {
		t.Errorf("local store = %v, want empty", got)
	}
}

func TestPullCommitRejected(t *testing.T) {
	local := openLocal(t)
	err := newSync(rejectingStore{local}, remote.NewMemoryRegistry()).Pull(context.Background())
	if !errors.Is(err, ErrLocalCommit) {
		t.Fatalf("Pull error = %v, want ErrLocalCommit", err)
	}
	if got := localEntries(t, local); len(got) != 0 {
		t.Errorf("local store = %v, want empty", got)
	}
}

func TestPullWithoutSession(t *testing.T) {
	local := openLocal(t)
	err := newSync(local, nil).Pull(context.Background())
	if !errors.Is(err, remote.ErrSessionUnavailable) {
		t.Fatalf("Pull error = %v, want ErrSessionUnavailable", err)
	}
}

func TestPullTypeMismatchAborts(t *testing.T) {
	ctx := context.Background()
	reg := remote.NewMemoryRegistry()
	reg.Set(ctx, "/tango/retry_count", "five")

	local := openLocal(t)
	err := newSync(local, reg).Pull(ctx)
	if !errors.Is(err, remote.ErrTypeMismatch) {
		t.Fatalf("Pull error = %v, want ErrTypeMismatch", err)
	}
	if got := localEntries(t, local); len(got) != 0 {
		t.Errorf("local store = %v, want empty", got)
	}
}

// TestPushMalformedInteger covers a bad int_as_string value: it is reported
// and the other entries are still pushed.
func TestPushMalformedInteger(t *testing.T) {
	ctx := context.Background()
	local := openLocal(t)
	if err := local.Edit().
		PutBool("enabled", true).
		PutString("retry_count", "abc").
		PutString("device_name", "rover1").
		Commit(); err != nil {
		t.Fatal(err)
	}
	reg := remote.NewMemoryRegistry()

	err := newSync(local, reg).Push(ctx)
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("Push error = %v, want ErrConversion", err)
	}
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("Push error %v does not carry *ConversionError", err)
	}
	if ce.Name != "retry_count" || ce.Value != "abc" {
		t.Errorf("ConversionError = %+v", ce)
	}

	entries := EntryErrors(err)
	if len(entries) != 1 || entries[0].Name != "retry_count" {
		t.Errorf("EntryErrors = %v, want only retry_count", entries)
	}

	if v, _ := reg.Value("/tango/enabled"); v != true {
		t.Errorf("/tango/enabled = %v, want true", v)
	}
	if v, _ := reg.Value("/tango/device_name"); v != "rover1" {
		t.Errorf("/tango/device_name = %v, want rover1", v)
	}
	if _, ok := reg.Value("/tango/retry_count"); ok {
		t.Error("/tango/retry_count should not have been written")
	}
}

func TestPushDefaults(t *testing.T) {
	reg := remote.NewMemoryRegistry()
	if err := newSync(openLocal(t), reg).Push(context.Background()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	want := map[string]any{
		"/tango/enabled":     false,
		"/tango/retry_count": 0,
		"/tango/device_name": "",
	}
	for name, w := range want {
		if v, _ := reg.Value(name); v != w {
			t.Errorf("%s = %#v, want %#v", name, v, w)
		}
	}
}

// TestPushIndependentWrites verifies a rejected write for one key does not
// stop the others.
func TestPushIndependentWrites(t *testing.T) {
	ctx := context.Background()
	local := openLocal(t)
	if err := local.Edit().
		PutBool("enabled", true).
		PutString("retry_count", "3").
		PutString("device_name", "rover2").
		Commit(); err != nil {
		t.Fatal(err)
	}
	mem := remote.NewMemoryRegistry()
	reg := &flakyRegistry{
		Registry: mem,
		failSet:  map[string]error{"/tango/enabled": errors.New("registry returned 500")},
	}

	err := newSync(local, reg).Push(ctx)
	if err == nil {
		t.Fatal("expected error for rejected write")
	}
	entries := EntryErrors(err)
	if len(entries) != 1 || entries[0].Name != "enabled" {
		t.Errorf("EntryErrors = %v, want only enabled", entries)
	}
	if v, _ := mem.Value("/tango/retry_count"); v != 3 {
		t.Errorf("/tango/retry_count = %#v, want 3", v)
	}
	if v, _ := mem.Value("/tango/device_name"); v != "rover2" {
		t.Errorf("/tango/device_name = %#v, want rover2", v)
	}
}

// TestPushSessionLostMidPass verifies the pass stops on session loss and
// the writes made before it persist.
func TestPushSessionLostMidPass(t *testing.T) {
	ctx := context.Background()
	local := openLocal(t)
	if err := local.Edit().
		PutBool("enabled", true).
		PutString("retry_count", "4").
		PutString("device_name", "rover3").
		Commit(); err != nil {
		t.Fatal(err)
	}

	mem := remote.NewMemoryRegistry()
	handle := remote.NewHandle(mem)
	reg := &flakyRegistry{Registry: handle}
	reg.onSet = func(name string) {
		if name == "/tango/enabled" {
			handle.Revoke()
		}
	}

	err := newSync(local, reg).Push(ctx)
	if !errors.Is(err, remote.ErrSessionUnavailable) {
		t.Fatalf("Push error = %v, want ErrSessionUnavailable", err)
	}
	if v, _ := mem.Value("/tango/enabled"); v != true {
		t.Errorf("/tango/enabled = %#v, want true (written before revoke)", v)
	}
	if names := mem.Names("/tango/"); len(names) != 1 {
		t.Errorf("registry names = %v, want only /tango/enabled", names)
	}
}

func TestPushWrongLocalKind(t *testing.T) {
	ctx := context.Background()
	local := openLocal(t)
	if err := local.Edit().PutString("enabled", "true").PutString("device_name", "r").Commit(); err != nil {
		t.Fatal(err)
	}
	reg := remote.NewMemoryRegistry()

	err := newSync(local, reg).Push(ctx)
	if !errors.Is(err, prefs.ErrWrongKind) {
		t.Fatalf("Push error = %v, want ErrWrongKind", err)
	}
	if v, _ := reg.Value("/tango/device_name"); v != "r" {
		t.Errorf("/tango/device_name = %#v, want r", v)
	}
}

// TestRoundTrip pushes values from one device and pulls them on another.
func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := remote.NewMemoryRegistry()

	cases := []struct {
		enabled bool
		retry   string
		name    string
	}{
		{true, "5", "rover1"},
		{false, "-12", ""},
		{true, "0", "name with spaces / and slash"},
		{false, "2147483647", "ünïcødé"},
	}
	for i, c := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			src := openLocal(t)
			if err := src.Edit().
				PutBool("enabled", c.enabled).
				PutString("retry_count", c.retry).
				PutString("device_name", c.name).
				Commit(); err != nil {
				t.Fatal(err)
			}
			if err := newSync(src, reg).Push(ctx); err != nil {
				t.Fatalf("Push: %v", err)
			}

			dst := openLocal(t)
			if err := newSync(dst, reg).Pull(ctx); err != nil {
				t.Fatalf("Pull: %v", err)
			}
			if diff := cmp.Diff(localEntries(t, src), localEntries(t, dst)); diff != "" {
				t.Errorf("round trip mismatch (-pushed +pulled):\n%s", diff)
			}
		})
	}
}

func TestEntryErrorsNil(t *testing.T) {
	if got := EntryErrors(nil); got != nil {
		t.Errorf("EntryErrors(nil) = %v", got)
	}
	if got := EntryErrors(errors.New("plain")); len(got) != 0 {
		t.Errorf("EntryErrors(plain) = %v", got)
	}
}

// Schemas built by param.NewSchema never carry an unknown tag, so the
// entry-level dispatch is exercised directly.
func TestEntryUnknownType(t *testing.T) {
	ctx := context.Background()
	local := openLocal(t)
	reg := remote.NewMemoryRegistry()
	s := newSync(local, reg)
	sp := param.Spec{Name: "speed", Type: param.Type(9)}

	ed := local.Edit()
	if err := s.pullEntry(ctx, ed, sp); !errors.Is(err, param.ErrUnknownType) {
		t.Fatalf("pullEntry = %v, want ErrUnknownType", err)
	}
	if err := ed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := localEntries(t, local); len(got) != 0 {
		t.Errorf("pullEntry staged %v", got)
	}

	if err := s.pushEntry(ctx, sp); !errors.Is(err, param.ErrUnknownType) {
		t.Fatalf("pushEntry = %v, want ErrUnknownType", err)
	}
	if names := reg.Names("/"); len(names) != 0 {
		t.Errorf("pushEntry wrote %v", names)
	}
}
