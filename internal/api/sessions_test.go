package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/ember/internal/model"
	"github.com/seantiz/ember/internal/task/tasktest"
)

func createTestSession(t *testing.T, baseURL string) model.Session {
	t.Helper()
	var sess model.Session
	if code := doJSON(t, "POST", baseURL+"/v1/sessions", nil, &sess); code != http.StatusCreated {
		t.Fatalf("create session status = %d, want 201", code)
	}
	return sess
}

func TestCreateAndGetSession(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := createTestSession(t, ts.URL)
	if sess.ID == "" || sess.Status != model.SessionOpen {
		t.Errorf("created session = %+v", sess)
	}

	var got model.Session
	if code := doJSON(t, "GET", ts.URL+"/v1/sessions/"+sess.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get session status = %d", code)
	}
	if got.ID != sess.ID {
		t.Errorf("ID = %q, want %q", got.ID, sess.ID)
	}

	if code := doJSON(t, "GET", ts.URL+"/v1/sessions/nonexistent", nil, nil); code != http.StatusNotFound {
		t.Errorf("get missing session status = %d, want 404", code)
	}
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := 0; i < 3; i++ {
		createTestSession(t, ts.URL)
	}

	var list listSessionsResponse
	if code := doJSON(t, "GET", ts.URL+"/v1/sessions?limit=2", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Total != 3 || len(list.Sessions) != 2 || list.Limit != 2 {
		t.Errorf("list = total %d, %d sessions, limit %d", list.Total, len(list.Sessions), list.Limit)
	}

	if code := doJSON(t, "GET", ts.URL+"/v1/sessions?limit=500&offset=-3", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Limit != defaultListLimit || list.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d", list.Limit, list.Offset)
	}
}

func TestNavigateDispatchesToContent(t *testing.T) {
	srv, rec := newRecordedServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := createTestSession(t, ts.URL)

	var nav model.Navigation
	code := doJSON(t, "POST", ts.URL+"/v1/sessions/"+sess.ID+"/navigate",
		navigateRequest{URL: "http://site.test/index.html"}, &nav)
	if code != http.StatusAccepted {
		t.Fatalf("navigate status = %d, want 202", code)
	}
	if nav.Kind != model.KindParse || nav.SessionID != sess.ID {
		t.Errorf("navigation = %+v", nav)
	}

	code = doJSON(t, "POST", ts.URL+"/v1/sessions/"+sess.ID+"/navigate",
		navigateRequest{URL: "http://site.test/app.js"}, &nav)
	if code != http.StatusAccepted {
		t.Fatalf("second navigate status = %d, want 202", code)
	}
	if nav.Kind != model.KindExecute {
		t.Errorf("kind = %q, want execute", nav.Kind)
	}

	if !rec.WaitFor(tasktest.ContentExecute, 1, 5*time.Second) {
		t.Fatalf("content never saw execute; events: %v", rec.Names())
	}
	if rec.Count(tasktest.ContentParse) != 1 {
		t.Errorf("parse commands = %d, want 1", rec.Count(tasktest.ContentParse))
	}

	var got model.Session
	doJSON(t, "GET", ts.URL+"/v1/sessions/"+sess.ID, nil, &got)
	if got.Navigations != 2 {
		t.Errorf("session navigations = %d, want 2", got.Navigations)
	}
}

func TestNavigateValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := createTestSession(t, ts.URL)
	navURL := ts.URL + "/v1/sessions/" + sess.ID + "/navigate"

	resp, err := http.Post(navURL, "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", resp.StatusCode)
	}

	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"relative", "/index.html"},
		{"unparseable", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := doJSON(t, "POST", navURL, navigateRequest{URL: tt.url}, nil); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}

	code := doJSON(t, "POST", ts.URL+"/v1/sessions/nonexistent/navigate", navigateRequest{URL: "http://x.test/"}, nil)
	if code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", code)
	}
}

func TestNavigateBusyEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := createTestSession(t, ts.URL)

	held, err := srv.endpoints.take(sess.ID)
	if err != nil {
		t.Fatalf("take: %v", err)
	}

	code := doJSON(t, "POST", ts.URL+"/v1/sessions/"+sess.ID+"/navigate", navigateRequest{URL: "http://x.test/"}, nil)
	if code != http.StatusConflict {
		t.Errorf("status while busy = %d, want 409", code)
	}

	srv.endpoints.put(sess.ID, held)
	code = doJSON(t, "POST", ts.URL+"/v1/sessions/"+sess.ID+"/navigate", navigateRequest{URL: "http://x.test/"}, nil)
	if code != http.StatusAccepted {
		t.Errorf("status after release = %d, want 202", code)
	}
}

func TestExitSession(t *testing.T) {
	srv, rec := newRecordedServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	winner := createTestSession(t, ts.URL)
	other := createTestSession(t, ts.URL)

	var resp exitResponse
	if code := doJSON(t, "POST", ts.URL+"/v1/sessions/"+winner.ID+"/exit", nil, &resp); code != http.StatusOK {
		t.Fatalf("exit status = %d, want 200", code)
	}
	// The other session and the server's root endpoint were both pending.
	if resp.Abandoned != 2 {
		t.Errorf("abandoned = %d, want 2", resp.Abandoned)
	}
	if resp.Session == nil || resp.Session.Status != model.SessionExited || resp.Session.ClosedAt == nil {
		t.Errorf("exited session = %+v", resp.Session)
	}
	if !srv.engine.Exited() {
		t.Error("engine not exited")
	}
	if rec.Count(tasktest.ResourceExit) != 1 {
		t.Errorf("resource exits = %d, want 1", rec.Count(tasktest.ResourceExit))
	}

	got, _ := srv.store.GetSession(context.Background(), other.ID)
	if got.Status != model.SessionAbandoned {
		t.Errorf("other session status = %q, want abandoned", got.Status)
	}

	for _, path := range []string{
		"/v1/sessions/" + other.ID + "/navigate",
		"/v1/sessions/" + winner.ID + "/navigate",
	} {
		if code := doJSON(t, "POST", ts.URL+path, navigateRequest{URL: "http://x.test/"}, nil); code != http.StatusGone {
			t.Errorf("POST %s after exit = %d, want 410", path, code)
		}
	}
	if code := doJSON(t, "POST", ts.URL+"/v1/sessions/"+other.ID+"/exit", nil, nil); code != http.StatusGone {
		t.Errorf("second exit = %d, want 410", code)
	}
	if code := doJSON(t, "POST", ts.URL+"/v1/sessions", nil, nil); code != http.StatusGone {
		t.Errorf("create session after exit = %d, want 410", code)
	}
}

func TestEndpointsTakePut(t *testing.T) {
	e := newEndpoints()

	if _, err := e.take("a"); err != errEndpointMissing {
		t.Errorf("take unknown = %v, want errEndpointMissing", err)
	}

	e.add("a", nil)
	if _, err := e.take("a"); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := e.take("a"); err != errEndpointBusy {
		t.Errorf("second take = %v, want errEndpointBusy", err)
	}

	e.release("a")
	if _, err := e.take("a"); err != errEndpointMissing {
		t.Errorf("take after release = %v, want errEndpointMissing", err)
	}

	e.add("b", nil)
	e.clear()
	if _, err := e.take("b"); err != errEndpointMissing {
		t.Errorf("take after clear = %v, want errEndpointMissing", err)
	}
}

func TestExitSessionRecordedAfterClientGivesUp(t *testing.T) {
	srv, rec := newRecordedServer(t)
	rec.RendererHold = make(chan struct{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	winner := createTestSession(t, ts.URL)
	other := createTestSession(t, ts.URL)

	client := &http.Client{Timeout: 200 * time.Millisecond}
	resp, err := client.Post(ts.URL+"/v1/sessions/"+winner.ID+"/exit", "application/json", nil)
	if err == nil {
		resp.Body.Close()
		t.Fatalf("exit returned %d while the renderer was held", resp.StatusCode)
	}

	close(rec.RendererHold)
	select {
	case <-srv.engine.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine not done after renderer released")
	}
	if err := srv.exitEngine(context.Background()); err != nil {
		t.Fatalf("exitEngine: %v", err)
	}

	want := map[string]string{
		winner.ID: model.SessionExited,
		other.ID:  model.SessionAbandoned,
	}
	deadline := time.Now().Add(5 * time.Second)
	for id, status := range want {
		for {
			got, err := srv.store.GetSession(context.Background(), id)
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got.Status == status {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("session %s status = %q, want %q", id, got.Status, status)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	srv.finishing.Wait()
}
