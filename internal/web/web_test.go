package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"taskfeed/internal/app"
	"taskfeed/internal/config"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/model"
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
	"UID:s2\r\n" +
	"SUMMARY:Barista\r\n" +
	"DTSTART:20250302T140000Z\r\n" +
	"DTEND:20250302T220000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/shift.ics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = io.WriteString(w, shiftFeed)
	})
	mux.HandleFunc("/broken.ics", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, configure func(*config.Config)) *httptest.Server {
	t.Helper()
	upstream := newUpstream(t)

	cfg := config.DefaultConfig()
	cfg.Feeds.Shift.URL = upstream.URL + "/shift.ics"
	cfg.Feeds.Calendar.URL = upstream.URL + "/broken.ics"
	if configure != nil {
		configure(cfg)
	}

	svc := app.New(cfg, memory.NewTaskStore(), app.Options{
		Now: func() time.Time { return fixedNow },
	})
	ts := httptest.NewServer(NewServer(svc, cfg.BasicAuth).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doReq(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("error body %q: %v", body, err)
	}
	return e.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	st, body := doReq(t, http.MethodGet, ts.URL+"/health", nil)
	if st != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health = %d %q", st, body)
	}
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t, nil)

	st, body := doReq(t, http.MethodGet, ts.URL+"/api/feeds/shift/events?days=7", nil)
	if st != http.StatusOK {
		t.Fatalf("status = %d body = %s", st, body)
	}
	var page struct {
		Kind  string `json:"kind"`
		Items []struct {
			ID    string `json:"id"`
			Start string `json:"start"`
		} `json:"items"`
		CachedAt time.Time `json:"cached_at"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatal(err)
	}
	if page.Kind != "shift" || len(page.Items) != 2 || page.Items[0].Start != "2025-03-01T14:00:00Z" {
		t.Fatalf("page = %+v", page)
	}
	if !page.CachedAt.Equal(fixedNow) {
		t.Fatalf("cached_at = %s", page.CachedAt)
	}
}

func TestFeedErrorMapping(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Feeds.Shift.URL = "" })

	cases := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown kind", http.MethodGet, "/api/feeds/weather/events", http.StatusNotFound},
		{"unconfigured", http.MethodGet, "/api/feeds/shift/events", http.StatusBadRequest},
		{"unconfigured sync", http.MethodPost, "/api/feeds/shift/sync", http.StatusBadRequest},
		{"upstream failure", http.MethodGet, "/api/feeds/calendar/events", http.StatusBadGateway},
		{"upstream failure sync", http.MethodPost, "/api/feeds/calendar/sync", http.StatusBadGateway},
		{"unknown status kind", http.MethodGet, "/api/integrations/status?kind=weather", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, body := doReq(t, tc.method, ts.URL+tc.path, nil)
			if st != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", st, tc.want, body)
			}
			if errorMessage(t, body) == "" {
				t.Fatal("empty error message")
			}
		})
	}
}

func TestSyncThenListTasksAndExport(t *testing.T) {
	ts := newTestServer(t, nil)

	st, body := doReq(t, http.MethodPost, ts.URL+"/api/feeds/shift/sync", nil)
	if st != http.StatusOK {
		t.Fatalf("sync = %d %s", st, body)
	}
	var res syncResponse
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.Kind != model.FeedShift || res.Created != 2 || res.Updated != 0 {
		t.Fatalf("sync result = %+v", res)
	}

	st, body = doReq(t, http.MethodGet, ts.URL+"/api/tasks", nil)
	if st != http.StatusOK {
		t.Fatalf("list = %d", st)
	}
	var tasks []model.Task
	if err := json.Unmarshal(body, &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ID != "w2w-s1" || tasks[0].Title != "Shift: Barista @ Downtown" {
		t.Fatalf("tasks = %+v", tasks)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/tasks.ics?source=w2w", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	cal, _ := io.ReadAll(resp.Body)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.Contains(cal, []byte("BEGIN:VCALENDAR")) || !bytes.Contains(cal, []byte("UID:w2w-s2")) {
		t.Fatalf("export body = %s", cal)
	}
}

func TestStatusAndVerify(t *testing.T) {
	ts := newTestServer(t, nil)

	st, body := doReq(t, http.MethodGet, ts.URL+"/api/integrations/status", nil)
	if st != http.StatusOK {
		t.Fatalf("status = %d", st)
	}
	var status struct {
		Feeds []struct {
			Kind    string `json:"kind"`
			HasFeed bool   `json:"has_feed"`
			Reason  string `json:"reason"`
		} `json:"feeds"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if len(status.Feeds) != 2 || !status.Feeds[0].HasFeed || status.Feeds[1].HasFeed || status.Feeds[1].Reason == "" {
		t.Fatalf("status = %+v", status)
	}

	st, body = doReq(t, http.MethodGet, ts.URL+"/api/feeds/shift/verify", nil)
	if st != http.StatusOK || !bytes.Contains(body, []byte(`"ok":true`)) || !bytes.Contains(body, []byte(`"events":2`)) {
		t.Fatalf("verify = %d %s", st, body)
	}
}

func TestTaskCRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	st, body := doReq(t, http.MethodPost, ts.URL+"/api/tasks", map[string]any{
		"title":    "Write report",
		"priority": "high",
	})
	if st != http.StatusCreated {
		t.Fatalf("create = %d %s", st, body)
	}
	var created model.Task
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Status != model.StatusTodo || created.Priority != model.PriorityHigh {
		t.Fatalf("created = %+v", created)
	}

	st, body = doReq(t, http.MethodPatch, ts.URL+"/api/tasks/"+created.ID, map[string]any{"status": "done"})
	if st != http.StatusOK {
		t.Fatalf("patch = %d %s", st, body)
	}
	var patched model.Task
	_ = json.Unmarshal(body, &patched)
	if patched.Status != model.StatusDone || patched.Title != "Write report" || patched.Priority != model.PriorityHigh {
		t.Fatalf("patched = %+v", patched)
	}

	st, _ = doReq(t, http.MethodGet, ts.URL+"/api/tasks/"+created.ID, nil)
	if st != http.StatusOK {
		t.Fatalf("get = %d", st)
	}

	st, _ = doReq(t, http.MethodGet, ts.URL+"/api/tasks/missing", nil)
	if st != http.StatusNotFound {
		t.Fatalf("get missing = %d", st)
	}

	st, _ = doReq(t, http.MethodPost, ts.URL+"/api/tasks", map[string]any{"title": "x", "priority": "someday"})
	if st != http.StatusBadRequest {
		t.Fatalf("invalid priority = %d", st)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/tasks", strings.NewReader("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid json = %d", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "me", Password: "secret"}
	})

	if st, _ := doReq(t, http.MethodGet, ts.URL+"/health", nil); st != http.StatusOK {
		t.Fatalf("health behind auth = %d", st)
	}
	if st, _ := doReq(t, http.MethodGet, ts.URL+"/api/tasks", nil); st != http.StatusUnauthorized {
		t.Fatalf("no credentials = %d", st)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/tasks", nil)
	req.SetBasicAuth("me", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with credentials = %d", resp.StatusCode)
	}
}
