package feed

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filehub-go/internal/controller"
	"github.com/tonimelisma/filehub-go/internal/hub"
	"github.com/tonimelisma/filehub-go/internal/upload"
)

// fakeCommander records the commands it receives.
type fakeCommander struct {
	mu       sync.Mutex
	calls    []string
	uploaded []string
	ran      chan string
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{ran: make(chan string, 10)}
}

func (f *fakeCommander) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	f.ran <- name
}

func (f *fakeCommander) State() controller.RenderState { return controller.Unauthenticated }

func (f *fakeCommander) StartSignIn(context.Context) error {
	f.record(CmdSignIn)
	return nil
}

func (f *fakeCommander) SignOut(context.Context) error {
	f.record(CmdSignOut)
	return nil
}

func (f *fakeCommander) Refresh(context.Context) (*hub.Listing, error) {
	f.record(CmdRefresh)
	return &hub.Listing{}, nil
}

func (f *fakeCommander) UploadFiles(_ context.Context, tasks []upload.Task) (upload.BatchReport, error) {
	f.mu.Lock()
	for _, t := range tasks {
		f.uploaded = append(f.uploaded, t.Name)
	}
	f.mu.Unlock()

	f.record(CmdUpload)

	return upload.BatchReport{}, nil
}

type feedHarness struct {
	srv    *Server
	cmd    *fakeCommander
	url    string
	cancel context.CancelFunc
	done   chan error
}

func startFeed(t *testing.T) *feedHarness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := &feedHarness{
		cmd:  newFakeCommander(),
		url:  "ws://" + ln.Addr().String() + Path,
		done: make(chan error, 1),
	}
	h.srv = New(h.cmd, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() { h.done <- h.srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	return h
}

func (h *feedHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	require.Eventually(t, func() bool { return h.srv.Clients() > 0 }, 5*time.Second, time.Millisecond)

	return conn
}

func (h *feedHarness) waitCommand(t *testing.T) string {
	t.Helper()

	select {
	case name := <-h.cmd.ran:
		return name
	case <-time.After(5 * time.Second):
		t.Fatal("command never ran")
		return ""
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ev map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &ev))

	return ev
}

func send(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, cmd))
}

func TestFeed_BroadcastsEvents(t *testing.T) {
	h := startFeed(t)
	a := h.dial(t)
	b := h.dial(t)

	require.Eventually(t, func() bool { return h.srv.Clients() == 2 }, 5*time.Second, time.Millisecond)

	h.srv.Emit(controller.Event{Kind: controller.EventAuthStatus, State: controller.PollingForSession, Message: "Not signed in yet. Waiting... (1s)", Attempt: 1})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "auth_status", ev["kind"])
		assert.Equal(t, "polling_for_session", ev["state"])
		assert.Equal(t, float64(1), ev["attempt"])
	}
}

func TestFeed_ReplaysSnapshotToNewClients(t *testing.T) {
	h := startFeed(t)

	h.srv.Emit(controller.Event{Kind: controller.EventState, State: controller.Authenticated, Identity: "a@b.com"})
	h.srv.Emit(controller.Event{Kind: controller.EventListing, State: controller.Authenticated, Listing: &hub.Listing{Count: 1, Rows: []hub.ListingRow{{FileName: "a.txt"}}}})
	h.srv.Emit(controller.Event{Kind: controller.EventUploadStatus, Message: "not replayed"})

	conn := h.dial(t)

	ev := readEvent(t, conn)
	assert.Equal(t, "state", ev["kind"])
	assert.Equal(t, "a@b.com", ev["identity"])

	ev = readEvent(t, conn)
	assert.Equal(t, "listing", ev["kind"])
	listing, ok := ev["listing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), listing["count"])
}

func TestFeed_RunsCommandsInOrder(t *testing.T) {
	h := startFeed(t)
	conn := h.dial(t)

	send(t, conn, Command{Command: CmdSignIn})
	send(t, conn, Command{Command: CmdRefresh})
	send(t, conn, Command{Command: CmdSignOut})

	assert.Equal(t, CmdSignIn, h.waitCommand(t))
	assert.Equal(t, CmdRefresh, h.waitCommand(t))
	assert.Equal(t, CmdSignOut, h.waitCommand(t))
}

func TestFeed_UploadCommand(t *testing.T) {
	h := startFeed(t)
	conn := h.dial(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(good, []byte("%PDF"), 0o600))

	send(t, conn, Command{Command: CmdUpload, Paths: []string{filepath.Join(dir, "missing.txt"), good}})

	assert.Equal(t, CmdUpload, h.waitCommand(t))

	h.cmd.mu.Lock()
	defer h.cmd.mu.Unlock()
	// The missing file stays in the batch so it is reported as failed.
	assert.Equal(t, []string{"missing.txt", "report.pdf"}, h.cmd.uploaded)
}

func TestFeed_RejectsInvalidCommands(t *testing.T) {
	h := startFeed(t)
	conn := h.dial(t)

	send(t, conn, Command{Command: "format_disk"})
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["kind"])
	assert.Contains(t, ev["error"], "format_disk")

	send(t, conn, Command{Command: CmdUpload})
	ev = readEvent(t, conn)
	assert.Equal(t, "error", ev["kind"])

	select {
	case name := <-h.cmd.ran:
		t.Fatalf("unexpected command %s", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeed_ShutdownClosesClients(t *testing.T) {
	h := startFeed(t)
	conn := h.dial(t)

	h.cancel()

	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ev map[string]any
	err := wsjson.Read(ctx, conn, &ev)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestFeed_DropsSlowClient(t *testing.T) {
	srv := New(newFakeCommander(), Options{})
	c := srv.add()

	for range sendBuffer + 1 {
		srv.Emit(controller.Event{Kind: controller.EventUploadStatus})
	}

	assert.Zero(t, srv.Clients())

	n := 0
	for range c.send {
		n++
	}

	assert.Equal(t, sendBuffer, n)
}
