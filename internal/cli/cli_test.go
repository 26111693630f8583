package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	gokeyring "github.com/zalando/go-keyring"

	"taskfeed/internal/app"
	"taskfeed/internal/config"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/secret"
	"taskfeed/internal/store/memory"
)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const shiftFeed = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:s1\r\n" +
	"SUMMARY:Barista\r\n" +
	"LOCATION:Downtown\r\n" +
	"DTSTART:20250301T140000Z\r\n" +
	"DTEND:20250301T220000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken\r\n" +
	"SUMMARY:No end\r\n" +
	"DTSTART:20250302T140000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newTestContext(t *testing.T, configure func(*config.Config)) (*Context, *bytes.Buffer) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shift.ics" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, shiftFeed)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.Feeds.Shift.URL = upstream.URL + "/shift.ics"
	if configure != nil {
		configure(cfg)
	}

	out := &bytes.Buffer{}
	return &Context{
		Ctx:    context.Background(),
		Config: cfg,
		App: app.New(cfg, memory.NewTaskStore(), app.Options{
			Now: func() time.Time { return fixedNow },
		}),
		Out: out,
	}, out
}

func TestSyncAllConfigured(t *testing.T) {
	ctx, out := newTestContext(t, nil)

	if err := (&SyncCmd{}).Run(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := out.String(); got != "✓ shift: 1 created, 0 updated, 0 skipped\n" {
		t.Fatalf("output = %q", got)
	}

	out.Reset()
	if err := (&SyncCmd{Kind: "shift"}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "0 created, 1 updated") {
		t.Fatalf("second sync output = %q", out.String())
	}
}

func TestOneShotCommandsWarnAboutMemoryStore(t *testing.T) {
	logs := &bytes.Buffer{}
	appLog.SetOutput(logs)
	t.Cleanup(func() { appLog.SetOutput(io.Discard) })

	ctx, _ := newTestContext(t, nil)
	if err := (&SyncCmd{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := (&ExportCmd{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	got := logs.String()
	if strings.Count(got, "task store is in-memory") != 2 || !strings.Contains(got, "export") {
		t.Fatalf("logs = %q", got)
	}

	logs.Reset()
	ctx, _ = newTestContext(t, func(c *config.Config) { c.Store.Driver = "sqlite" })
	if err := (&SyncCmd{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(logs.String(), "in-memory") {
		t.Fatalf("unexpected warning for sqlite: %q", logs.String())
	}
}

func TestSyncRejectsUnknownKind(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	err := (&SyncCmd{Kind: "weather"}).Run(ctx)
	if !errors.Is(err, app.ErrUnknownFeed) {
		t.Fatalf("err = %v", err)
	}
}

func TestSyncUnconfiguredFeed(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	var cfgErr *app.ConfigurationError
	if err := (&SyncCmd{Kind: "calendar"}).Run(ctx); !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestEventsText(t *testing.T) {
	ctx, out := newTestContext(t, nil)
	if err := (&EventsCmd{Kind: "shift", Days: 7}).Run(ctx); err != nil {
		t.Fatalf("events: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "2025-03-01T14:00:00Z  Barista @ Downtown") {
		t.Fatalf("output = %q", got)
	}
	if !strings.Contains(got, "1 malformed event(s) skipped") {
		t.Fatalf("missing skipped note: %q", got)
	}
}

func TestVerifyReportsMissingKeys(t *testing.T) {
	ctx, out := newTestContext(t, nil)
	if err := (&VerifyCmd{Kind: "shift"}).Run(ctx); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "✓ shift: 1 event(s)") || !strings.Contains(got, "DTEND") {
		t.Fatalf("output = %q", got)
	}
}

func TestStatusText(t *testing.T) {
	ctx, out := newTestContext(t, nil)
	if err := (&StatusCmd{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "shift     ok") || !strings.Contains(got, "calendar  unavailable: not configured") {
		t.Fatalf("output = %q", got)
	}
}

func TestExportWritesCalendar(t *testing.T) {
	ctx, out := newTestContext(t, nil)
	if err := (&SyncCmd{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := (&ExportCmd{Source: "w2w"}).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "UID:w2w-s1") {
		t.Fatalf("export = %q", out.String())
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	runCtx, cancel := context.WithCancel(context.Background())
	ctx.Ctx = runCtx

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestSecretSetFromStdinAndDelete(t *testing.T) {
	gokeyring.MockInit()
	out := &bytes.Buffer{}
	ctx := &Context{Ctx: context.Background(), In: strings.NewReader("https://x.example/p.ics?t=1\n"), Out: out}

	if err := (&SecretSetCmd{Name: "shift-url"}).Run(ctx); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := secret.Get("shift-url"); got != "https://x.example/p.ics?t=1" {
		t.Fatalf("stored = %q", got)
	}
	if !strings.Contains(out.String(), "keyring:shift-url") {
		t.Fatalf("output = %q", out.String())
	}

	if err := (&SecretDeleteCmd{Name: "shift-url"}).Run(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := (&SecretDeleteCmd{Name: "shift-url"}).Run(ctx); !errors.Is(err, secret.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}
