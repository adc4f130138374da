package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dcrodman/mediaserver/internal/core"
)

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := &core.Config{
		Hostname:       "localhost",
		MaxConnections: 16,
		SweepInterval:  time.Second,
		IdleTimeout:    10 * time.Second,
		WriteTimeout:   time.Second,
	}
	cfg.Logging.LogLevel = "debug"
	cfg.Logging.LogFilePath = filepath.Join(dir, "mediaserver.log")
	for _, sc := range []*core.ServerConfig{
		&cfg.RTMPServer, &cfg.WebSocketServer, &cfg.SignalingServer, &cfg.HTTPFLVServer, &cfg.HTTPServer,
	} {
		sc.Enabled = true
	}
	cfg.Journal.Enabled = true
	cfg.Journal.Engine = "sqlite"
	cfg.Journal.Filename = filepath.Join(dir, "sessions.db")
	cfg.Journal.QueueSize = 16
	return cfg
}

func startController(t *testing.T, c *Controller) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx) }()

	select {
	case <-c.Started():
	case err := <-errc:
		stop()
		t.Fatalf("Start() returned early: %v", err)
	case <-time.After(5 * time.Second):
		stop()
		t.Fatal("timed out waiting for the controller to start")
	}
	return func() error {
		stop()
		select {
		case err := <-errc:
			return err
		case <-time.After(5 * time.Second):
			return fmt.Errorf("timed out waiting for Start to return")
		}
	}
}

func (c *Controller) serverAddr(name string) string {
	for _, srv := range c.servers {
		if srv.Name() == name {
			return srv.Addr().String()
		}
	}
	return ""
}

func TestController(t *testing.T) {
	c := &Controller{Config: testConfig(t)}
	stop := startController(t, c)

	var names []string
	for _, srv := range c.servers {
		names = append(names, srv.Name())
	}
	want := []string{"RTMP", "WEBSOCKET-FLV", "SIGNALING", "HTTP-FLV", "HTTP"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("unexpected servers; diff:\n%s", diff)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/status", c.serverAddr("HTTP")))
	if err != nil {
		t.Fatal(err)
	}
	var report struct {
		Servers []struct {
			Name     string `json:"name"`
			Sessions int    `json:"sessions"`
		} `json:"servers"`
	}
	err = json.NewDecoder(resp.Body).Decode(&report)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if len(report.Servers) != len(want) {
		t.Fatalf("status reported %d servers, want %d", len(report.Servers), len(want))
	}
	for i, s := range report.Servers {
		if s.Name != want[i] {
			t.Errorf("server %d = %s, want %s", i, s.Name, want[i])
		}
	}

	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", c.serverAddr("HTTP")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}

	if err := stop(); err != nil {
		t.Errorf("Start() after cancel = %v, want nil", err)
	}
	for _, srv := range c.servers {
		if n := srv.Registry().Len(); n != 0 {
			t.Errorf("%s still has %d sessions after shutdown", srv.Name(), n)
		}
	}
}

func TestController_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	cfg := testConfig(t)
	cfg.Journal.Enabled = false
	cfg.HTTPServer.Port = taken.Addr().(*net.TCPAddr).Port

	c := &Controller{Config: cfg}
	errc := make(chan error, 1)
	go func() { errc <- c.Start(context.Background()) }()

	select {
	case err := <-errc:
		if err == nil || !strings.Contains(err.Error(), "error starting HTTP server") {
			t.Errorf("Start() error = %v, want a startup error for the HTTP server", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not fail")
	}

	select {
	case <-c.Started():
		t.Error("Started() closed after a failed startup")
	default:
	}
}

func TestController_BadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.LogLevel = "loud"

	c := &Controller{Config: cfg}
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected an error for an unknown log level")
	}
}
