package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filehub-go/internal/transport"
)

// fakeTransport answers uploads by task name.
type fakeTransport struct {
	answers map[string]func() (*transport.Response, error)
	seen    []string
	bodies  map[string]string
}

func (f *fakeTransport) Perform(_ context.Context, op transport.Operation) (*transport.Response, error) {
	f.seen = append(f.seen, op.Name)

	if f.bodies == nil {
		f.bodies = make(map[string]string)
	}

	data, err := io.ReadAll(op.Content)
	if err != nil {
		return nil, err
	}

	f.bodies[op.Name] = string(data)

	if answer, ok := f.answers[op.Name]; ok {
		return answer()
	}

	return okResponse(`{"ok":true,"file":{"id":"id-` + op.Name + `"}}`), nil
}

func okResponse(raw string) *transport.Response {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		panic(err)
	}

	ok, _ := body["ok"].(bool)

	return &transport.Response{OK: ok, Status: 200, Body: body, Raw: []byte(raw)}
}

func memTask(name, content string) Task {
	return Task{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

// recorderFunc adapts a function to Recorder.
type recorderFunc func(ctx context.Context, rec Record) error

func (f recorderFunc) Record(ctx context.Context, rec Record) error { return f(ctx, rec) }

var signedIn = GateFunc(func(context.Context) bool { return true })

func TestUploadBatch_IsolatesFailures(t *testing.T) {
	ft := &fakeTransport{answers: map[string]func() (*transport.Response, error){
		"b.txt": func() (*transport.Response, error) {
			return nil, errors.Join(errors.New("direct: transport: network error: connection reset"), transport.ErrNetwork)
		},
	}}

	refreshes := 0

	o := NewOrchestrator(ft, Options{
		Logger:  slog.Default(),
		Gate:    signedIn,
		Refresh: func(context.Context) { refreshes++ },
	})

	report, err := o.UploadBatch(context.Background(), []Task{
		memTask("a.txt", "a"), memTask("b.txt", "b"), memTask("c.txt", "c"),
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.True(t, report.Results[0].OK)
	assert.False(t, report.Results[1].OK)
	assert.True(t, report.Results[2].OK)
	assert.Contains(t, report.Results[1].ErrorMessage, "network error")
	assert.ErrorIs(t, report.Results[1].Err, transport.ErrNetwork)

	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, ft.seen, "sequential in submission order")
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Failed())
	assert.NotEmpty(t, report.BatchID)
}

func TestUploadBatch_ResultInvariant(t *testing.T) {
	ft := &fakeTransport{answers: map[string]func() (*transport.Response, error){
		"x": func() (*transport.Response, error) { return nil, transport.ErrNetwork },
		"y": func() (*transport.Response, error) { return okResponse(`{"ok":false,"error":"Folder not found"}`), nil },
		"z": func() (*transport.Response, error) { return okResponse(`{"ok":true,"row":{}}`), nil },
	}}

	o := NewOrchestrator(ft, Options{Gate: signedIn})

	tasks := []Task{memTask("w", "1"), memTask("x", "2"), memTask("y", "3"), memTask("z", "4")}

	report, err := o.UploadBatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, report.Results, len(tasks))

	for i, r := range report.Results {
		assert.Equal(t, tasks[i].Name, r.TaskName)
		assert.Equal(t, r.OK, r.RemoteID != "", "remote id set iff ok")
		assert.Equal(t, !r.OK, r.ErrorMessage != "", "error set iff not ok")
	}

	assert.Equal(t, "Folder not found", report.Results[2].ErrorMessage)
}

func TestUploadBatch_NoIdentifier(t *testing.T) {
	ft := &fakeTransport{answers: map[string]func() (*transport.Response, error){
		"a": func() (*transport.Response, error) {
			return okResponse(`{"ok":true,"file":{"file_name":"a"},"data":{"name":"a"}}`), nil
		},
	}}

	o := NewOrchestrator(ft, Options{Gate: signedIn})

	report, err := o.UploadBatch(context.Background(), []Task{memTask("a", "x")})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].OK)
	assert.Equal(t, "no identifier returned", report.Results[0].ErrorMessage)
	assert.ErrorIs(t, report.Results[0].Err, ErrNoIdentifierReturned)
}

func TestUploadBatch_RefusedWithoutSession(t *testing.T) {
	ft := &fakeTransport{}
	refreshes := 0

	o := NewOrchestrator(ft, Options{
		Gate:    GateFunc(func(context.Context) bool { return false }),
		Refresh: func(context.Context) { refreshes++ },
	})

	report, err := o.UploadBatch(context.Background(), []Task{memTask("a", "1"), memTask("b", "2")})
	require.ErrorIs(t, err, ErrSessionAbsent)
	assert.True(t, report.Refused)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].OK)
	assert.Empty(t, ft.seen, "nothing transferred")
	assert.Zero(t, refreshes)
}

func TestUploadBatch_AllFailStillRefreshes(t *testing.T) {
	ft := &fakeTransport{answers: map[string]func() (*transport.Response, error){
		"a": func() (*transport.Response, error) { return nil, transport.ErrNetwork },
		"b": func() (*transport.Response, error) { return nil, transport.ErrNetwork },
	}}
	refreshes := 0

	o := NewOrchestrator(ft, Options{Gate: signedIn, Refresh: func(context.Context) { refreshes++ }})

	report, err := o.UploadBatch(context.Background(), []Task{memTask("a", "1"), memTask("b", "2")})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed())
	assert.Equal(t, 1, refreshes)
}

func TestUploadBatch_MetadataFailureIsDistinct(t *testing.T) {
	ft := &fakeTransport{answers: map[string]func() (*transport.Response, error){
		"a.txt": func() (*transport.Response, error) {
			return okResponse(`{"ok":true,"file":{"id":2664000000014747,"file_name":"a (1).txt","file_size":"42"}}`), nil
		},
	}}

	var got []Record

	o := NewOrchestrator(ft, Options{
		Gate: signedIn,
		Recorder: recorderFunc(func(_ context.Context, rec Record) error {
			got = append(got, rec)
			return errors.New("table 7: forbidden")
		}),
		Now: func() time.Time { return time.Unix(1700000000, 0) },
	})

	report, err := o.UploadBatch(context.Background(), []Task{memTask("a.txt", "abc")})
	require.NoError(t, err)

	r := report.Results[0]
	assert.True(t, r.OK, "side record failure never flips the transfer")
	assert.Equal(t, "2664000000014747", r.RemoteID)
	assert.Empty(t, r.ErrorMessage)
	assert.Contains(t, r.MetadataError, "forbidden")

	require.Len(t, got, 1)
	assert.Equal(t, "a (1).txt", got[0].FileName, "name from the returned descriptor")
	assert.Equal(t, int64(42), got[0].FileSize, "size from the returned descriptor")
	assert.Equal(t, report.BatchID, got[0].BatchID)
}

func TestUploadBatch_RecordFallsBackToTask(t *testing.T) {
	ft := &fakeTransport{answers: map[string]func() (*transport.Response, error){
		"a.txt": func() (*transport.Response, error) { return okResponse(`{"ok":true,"id":"9"}`), nil },
	}}

	var got Record

	o := NewOrchestrator(ft, Options{
		Gate: signedIn,
		Recorder: recorderFunc(func(_ context.Context, rec Record) error {
			got = rec
			return nil
		}),
	})

	report, err := o.UploadBatch(context.Background(), []Task{memTask("a.txt", "abcd")})
	require.NoError(t, err)
	assert.Empty(t, report.Results[0].MetadataError)
	assert.Equal(t, Record{BatchID: report.BatchID, FileName: "a.txt", FileID: "9", FileSize: 4, UploadedAt: got.UploadedAt}, got)
}

func TestUploadBatch_OpenErrorAndSizeCap(t *testing.T) {
	ft := &fakeTransport{}

	o := NewOrchestrator(ft, Options{Gate: signedIn, MaxFileSize: 3})

	broken := Task{Name: "gone", Size: 1, Open: func() (io.ReadCloser, error) { return nil, os.ErrNotExist }}

	report, err := o.UploadBatch(context.Background(), []Task{broken, memTask("big", "12345"), memTask("ok", "1")})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Contains(t, report.Results[0].ErrorMessage, "opening content")
	assert.Contains(t, report.Results[1].ErrorMessage, "max_file_size")
	assert.True(t, report.Results[2].OK)
	assert.Equal(t, []string{"ok"}, ft.seen)
}

func TestUploadBatch_Callbacks(t *testing.T) {
	var (
		started int
		indexes []int
	)

	o := NewOrchestrator(&fakeTransport{}, Options{
		Gate:     signedIn,
		OnStart:  func(n int) { started = n },
		OnResult: func(i int, _ Result) { indexes = append(indexes, i) },
	})

	_, err := o.UploadBatch(context.Background(), []Task{memTask("a", "1"), memTask("b", "2")})
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	assert.Equal(t, []int{0, 1}, indexes)
}

func TestUploadBatch_StreamsContent(t *testing.T) {
	ft := &fakeTransport{}
	o := NewOrchestrator(ft, Options{Gate: signedIn, Limiter: NewBandwidthLimiter(1<<20, slog.Default())})

	_, err := o.UploadBatch(context.Background(), []Task{memTask("a", "hello")})
	require.NoError(t, err)
	assert.Equal(t, "hello", ft.bodies["a"])
}

func TestExtractID_RuleOrder(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"content wins", `{"content":{"id":"c"},"data":{"id":"d"},"id":"t"}`, "c"},
		{"content file_id", `{"content":{"file_id":"cf"}}`, "cf"},
		{"content fileId", `{"content":{"fileId":"cF"}}`, "cF"},
		{"data when content lacks id", `{"content":{"name":"x"},"data":{"id":"d"}}`, "d"},
		{"file wrapper", `{"file":{"id":12}}`, "12"},
		{"empty content falls through to file", `{"content":{},"file":{"id":"x"}}`, "x"},
		{"file fileId", `{"file":{"fileId":"ff"}}`, "ff"},
		{"top level id", `{"id":"t"}`, "t"},
		{"top level file_id", `{"file_id":"tf"}`, "tf"},
		{"top level fileId", `{"fileId":"tF"}`, "tF"},
		{"big number keeps digits", `{"file":{"id":2664000000014747}}`, "2664000000014747"},
		{"zero is absent", `{"file":{"id":0},"id":"t"}`, "t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ExtractID(okResponse(tt.raw).Body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.ID)
		})
	}

	_, err := ExtractID(okResponse(`{"ok":true,"file":"not an object"}`).Body)
	assert.ErrorIs(t, err, ErrNoIdentifierReturned)
}

func TestTasksFromPaths(t *testing.T) {
	dir := t.TempDir()

	// NFD form, as some filesystems store it.
	nfd := filepath.Join(dir, "cafe\u0301.txt")
	require.NoError(t, os.WriteFile(nfd, []byte("latte"), 0o600))

	tasks := TasksFromPaths([]string{nfd, filepath.Join(dir, "missing.txt"), dir})
	require.Len(t, tasks, 3)

	assert.Equal(t, "caf\u00e9.txt", tasks[0].Name)
	assert.Equal(t, int64(5), tasks[0].Size)

	rc, err := tasks[0].Open()
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "latte", buf.String())

	assert.Equal(t, "missing.txt", tasks[1].Name)
	_, err = tasks[1].Open()
	require.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, filepath.Base(dir), tasks[2].Name)
	_, err = tasks[2].Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")
}
