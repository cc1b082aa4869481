package devproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/telemetry"
)

// upstream answers with its name, the request path and the Host header.
func upstream(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			echo(t, w, r, name)
			return
		}
		fmt.Fprintf(w, "%s %s host=%s xff=%t", name, r.URL.RequestURI(), r.Host, r.Header.Get("X-Forwarded-For") != "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func echo(t *testing.T, w http.ResponseWriter, r *http.Request, name string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.Errorf("accept: %v", err)
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, typ, []byte(name+":"+string(msg))); err != nil {
			return
		}
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "buildconfig.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type harness struct {
	backend   *httptest.Server
	devServer *httptest.Server
	proxy     *Proxy
	server    *httptest.Server
	metrics   *telemetry.Metrics
	path      string
}

func newHarness(t *testing.T, proxyYAML func(backend string) string) *harness {
	t.Helper()
	h := &harness{
		backend:   upstream(t, "backend"),
		devServer: upstream(t, "devserver"),
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "siteprov"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h.metrics = metrics

	h.path = writeConfig(t, t.TempDir(), proxyYAML(h.backend.URL))
	h.proxy, err = New(context.Background(), Options{
		ConfigPath: h.path,
		DevServer:  h.devServer.URL,
		Metrics:    metrics,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.server = httptest.NewServer(h.proxy.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func standardConfig(backend string) string {
	return fmt.Sprintf(`
server:
  proxy:
    /ask: %[1]s
    /chat: %[1]s
    /conversation:
      target: %[1]s
      changeOrigin: true
    /ws:
      target: %[2]s
      ws: true
`, backend, strings.Replace(backend, "http://", "ws://", 1))
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestProxy_Routing(t *testing.T) {
	h := newHarness(t, standardConfig)
	proxyHost := strings.TrimPrefix(h.server.URL, "http://")
	backendHost := strings.TrimPrefix(h.backend.URL, "http://")
	devHost := strings.TrimPrefix(h.devServer.URL, "http://")

	tests := []struct {
		path string
		want string
	}{
		{"/ask", "backend /ask host=" + proxyHost + " xff=true"},
		{"/ask/followup?x=1", "backend /ask/followup?x=1 host=" + proxyHost + " xff=true"},
		{"/chat", "backend /chat host=" + proxyHost + " xff=true"},
		{"/chatroom", "backend /chatroom host=" + proxyHost + " xff=true"},
		{"/conversation/1", "backend /conversation/1 host=" + backendHost + " xff=true"},
		{"/", "devserver / host=" + devHost + " xff=true"},
		{"/src/main.tsx", "devserver /src/main.tsx host=" + devHost + " xff=true"},
		{"/history", "devserver /history host=" + devHost + " xff=true"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(t, h.server.URL+tt.path)
			if status != http.StatusOK {
				t.Fatalf("status = %d", status)
			}
			if body != tt.want {
				t.Errorf("body = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestProxy_WebSocket(t *testing.T) {
	h := newHarness(t, standardConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(h.server.URL, "http://", "ws://", 1)
	conn, _, err := websocket.Dial(ctx, wsURL+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(msg) != "backend:ping" {
		t.Errorf("message = %q, want backend:ping", msg)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	// /ask does not enable ws.
	_, resp, err := websocket.Dial(ctx, wsURL+"/ask", nil)
	if err == nil {
		t.Fatal("expected upgrade on /ask to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
}

func TestProxy_UpstreamDown(t *testing.T) {
	h := newHarness(t, func(string) string {
		return "server:\n  proxy:\n    /ask: http://127.0.0.1:1\n"
	})

	status, body := get(t, h.server.URL+"/ask")
	if status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", status)
	}
	if !strings.Contains(body, "127.0.0.1:1 is unavailable") {
		t.Errorf("body = %q", body)
	}
}

func TestProxy_MetricsAndHealth(t *testing.T) {
	h := newHarness(t, standardConfig)

	get(t, h.server.URL+"/ask")
	get(t, h.server.URL+"/index.html")

	if status, _ := get(t, h.server.URL+"/healthz"); status != http.StatusOK {
		t.Errorf("healthz status = %d", status)
	}

	status, body := get(t, h.server.URL+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("metrics status = %d", status)
	}
	for _, want := range []string{
		`siteprov_devproxy_requests_total{code="200",route="/ask"} 1`,
		`siteprov_devproxy_requests_total{code="200",route="devserver"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestProxy_Reload(t *testing.T) {
	h := newHarness(t, standardConfig)
	ctx := context.Background()

	// /history starts on the dev server.
	if _, body := get(t, h.server.URL+"/history"); !strings.HasPrefix(body, "devserver") {
		t.Fatalf("body = %q", body)
	}

	writeConfig(t, filepath.Dir(h.path), fmt.Sprintf("server:\n  proxy:\n    /history: %s\n", h.backend.URL))
	if err := h.proxy.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, body := get(t, h.server.URL+"/history"); !strings.HasPrefix(body, "backend") {
		t.Errorf("after reload body = %q", body)
	}

	// An invalid file keeps the previous rules.
	writeConfig(t, filepath.Dir(h.path), "server:\n  proxy:\n    history: ftp://nowhere\n")
	if err := h.proxy.Reload(ctx); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok := h.proxy.Config().Server.Proxy["/history"]; !ok {
		t.Error("previous rules were discarded")
	}

	_, body := get(t, h.server.URL+"/metrics")
	for _, want := range []string{
		`siteprov_devproxy_config_reloads_total{result="success"} 1`,
		`siteprov_devproxy_config_reloads_total{result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestProxy_WatchReloadsOnWrite(t *testing.T) {
	h := newHarness(t, standardConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.proxy.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	writeConfig(t, filepath.Dir(h.path), fmt.Sprintf("server:\n  proxy:\n    /api: %s\n", h.backend.URL))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.proxy.Config().Server.Proxy["/api"]; ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("config was not reloaded")
}

func TestNew_DefaultsWithoutConfig(t *testing.T) {
	p, err := New(context.Background(), Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.DevServer(); got != "http://localhost:5173" {
		t.Errorf("DevServer = %s", got)
	}
	if err := p.Reload(context.Background()); err != nil {
		t.Errorf("Reload without file: %v", err)
	}
	if rule, _ := p.Config().Match("/chat/1"); rule.Target != "http://localhost:5000" {
		t.Errorf("/chat target = %s", rule.Target)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	p, err := New(context.Background(), Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
