package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticToken is a TokenSource that always returns the same token.
type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

// failingToken is a TokenSource whose refresh always fails.
type failingToken struct{}

func (failingToken) Token() (string, error) { return "", errors.New("refresh failed") }

func newTestClient(t *testing.T, handler http.Handler, token TokenSource) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Options{
		Origin:       srv.URL + "/",
		FunctionName: "file_hub",
		ProjectID:    "42",
		Token:        token,
		Logger:       slog.Default(),
	})
}

func TestListFiles_ParsesEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /server/file_hub", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(requestIDHeader))
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"count":1,"data":[{"Uploads":{"ROWID":"9","file_name":"a.txt","file_id":2664000000014747,"file_size":12,"CREATEDTIME":"2026-01-02 10:00:00"}}]}`)
	})

	c := newTestClient(t, mux, staticToken("tok"))

	env, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	assert.True(t, env.OK())
	assert.Equal(t, http.StatusOK, env.Status)

	listing := ParseListing(env.Body)
	assert.Equal(t, 1, listing.Count)
	require.Len(t, listing.Rows, 1)
	assert.Equal(t, "a.txt", listing.Rows[0].FileName)
	assert.Equal(t, "2664000000014747", listing.Rows[0].FileID, "large numeric IDs keep every digit")
	assert.Equal(t, int64(12), listing.Rows[0].FileSize)
	assert.Equal(t, "9", listing.Rows[0].RowID)
}

func TestListFiles_ErrorEnvelopeIsNotAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"ok":false,"error":"Missing env var FILESTORE_FOLDER_ID"}`)
	}), nil)

	env, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	assert.False(t, env.OK())
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.Contains(t, env.ErrorMessage(), "FILESTORE_FOLDER_ID")
}

func TestListFiles_NonJSONBody(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"html login page", http.StatusOK, "<html>sign in</html>", ErrNotJSON},
		{"gateway error", http.StatusBadGateway, "bad gateway", ErrServerError},
		{"unauthorized", http.StatusUnauthorized, "", ErrUnauthorized},
		{"json array", http.StatusOK, "[1,2]", ErrNotJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}), nil)

			_, err := c.ListFiles(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var he *HubError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.status, he.StatusCode)
			assert.NotEmpty(t, he.RequestID)
		})
	}
}

func TestCookiesAreSentBack(t *testing.T) {
	var calls int

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		} else {
			ck, err := r.Cookie("session")
			assert.NoError(t, err)

			if ck != nil {
				assert.Equal(t, "abc", ck.Value)
			}
		}

		_, _ = io.WriteString(w, `{"ok":true}`)
	}), nil)

	for range 2 {
		_, err := c.ListFiles(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 2, calls)
}

func TestFailingTokenDoesNotBlockFunctionCalls(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}), failingToken{})

	env, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	assert.True(t, env.OK())
}

func TestUploadFile_Multipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/server/file_hub", r.URL.Path)

		f, hdr, err := r.FormFile(UploadField)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()

		data, _ := io.ReadAll(f)
		assert.Equal(t, "report.pdf", hdr.Filename)
		assert.Equal(t, "hello world", string(data))

		_, _ = io.WriteString(w, `{"ok":true,"file":{"id":77,"file_name":"report.pdf","file_size":11}}`)
	}), staticToken("tok"))

	env, err := c.UploadFile(context.Background(), "report.pdf", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.True(t, env.OK())

	file, ok := ObjectField(env.Body, "file")
	require.True(t, ok)

	id, ok := StringField(file, "id")
	require.True(t, ok)
	assert.Equal(t, "77", id)
}

func TestUploadFile_ReaderError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}), nil)

	_, err := c.UploadFile(context.Background(), "x", io.MultiReader(strings.NewReader("abc"), errReader{}))
	require.Error(t, err)
}

// slowReader yields size bytes in small chunks and counts reads made after
// done is set.
type slowReader struct {
	remaining int
	done      atomic.Bool
	lateReads atomic.Int32
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.done.Load() {
		r.lateReads.Add(1)
	}

	if r.remaining == 0 {
		return 0, io.EOF
	}

	time.Sleep(time.Millisecond)

	n := min(len(p), r.remaining, 32<<10)
	r.remaining -= n

	return n, nil
}

func TestUploadFile_EarlyResponseReleasesReader(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Answer without reading the body.
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = io.WriteString(w, `{"ok":false,"error":"too large"}`)
	}), nil)

	r := &slowReader{remaining: 8 << 20}

	// The server may cut the connection mid-body; only the reader matters.
	_, _ = c.UploadFile(context.Background(), "big.bin", r)
	r.done.Store(true)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, r.lateReads.Load(), "reader used after UploadFile returned")
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestCurrentUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /baas/v1/project/42/project-user/current", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"status":"success","data":{"user_id":123,"email_id":"a@b.com","first_name":"Ada"}}`)
	})

	c := newTestClient(t, mux, staticToken("tok"))

	u, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123", u.ID)
	assert.Equal(t, "a@b.com", u.Email)
	assert.Equal(t, "Ada", u.FirstName)
}

func TestCurrentUser_Errors(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		c := newTestClient(t, http.NotFoundHandler(), nil)
		_, err := c.CurrentUser(context.Background())
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("token refresh fails", func(t *testing.T) {
		c := newTestClient(t, http.NotFoundHandler(), failingToken{})
		_, err := c.CurrentUser(context.Background())
		assert.ErrorIs(t, err, ErrNoToken)
		assert.Contains(t, err.Error(), "refresh failed")
	})

	t.Run("no project", func(t *testing.T) {
		c := NewClient(Options{Origin: "http://127.0.0.1:1", Token: staticToken("tok")})
		_, err := c.CurrentUser(context.Background())
		assert.ErrorIs(t, err, ErrNoProject)
	})

	t.Run("unauthorized", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"status":"failure"}`)
		}), staticToken("tok"))

		_, err := c.CurrentUser(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty user", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"status":"success","data":{}}`)
		}), staticToken("tok"))

		_, err := c.CurrentUser(context.Background())
		assert.ErrorIs(t, err, ErrNotJSON)
	})
}

func TestInsertRows(t *testing.T) {
	var got []Row

	mux := http.NewServeMux()
	mux.HandleFunc("POST /baas/v1/project/42/table/7/row", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":"success","data":[{"ROWID":1}]}`)
	})

	c := newTestClient(t, mux, staticToken("tok"))

	err := c.InsertRows(context.Background(), "7", []Row{{FileName: "a.txt", FileID: "99", FileSize: 5}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Row{FileName: "a.txt", FileID: "99", FileSize: 5}, got[0])
}

func TestInsertRows_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}), staticToken("tok"))

	err := c.InsertRows(context.Background(), "7", []Row{{FileName: "a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "table 7")
}

func TestHubError_Message(t *testing.T) {
	e := &HubError{StatusCode: 500, RequestID: "r1", Message: "boom", Err: ErrServerError}
	assert.Equal(t, "hub: HTTP 500 (request-id: r1): boom", e.Error())
	assert.ErrorIs(t, e, ErrServerError)

	e.RequestID = ""
	assert.Equal(t, "hub: HTTP 500: boom", e.Error())
}

func TestValueHelpers(t *testing.T) {
	m := map[string]any{
		"num":   json.Number("2664000000014747"),
		"float": float64(12),
		"str":   "x",
		"empty": "",
		"size":  "33",
		"obj":   map[string]any{"a": "b"},
	}

	s, ok := StringField(m, "num")
	assert.True(t, ok)
	assert.Equal(t, "2664000000014747", s)

	s, ok = StringField(m, "float")
	assert.True(t, ok)
	assert.Equal(t, "12", s)

	_, ok = StringField(m, "empty")
	assert.False(t, ok)

	n, ok := Int64Field(m, "size")
	assert.True(t, ok)
	assert.Equal(t, int64(33), n)

	_, ok = ObjectField(m, "obj")
	assert.True(t, ok)

	_, ok = ObjectField(nil, "obj")
	assert.False(t, ok)
}
