package typesensesink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

func TestServerURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Host: "localhost", Port: 8108}, "http://localhost:8108"},
		{Config{Host: "search.example", Port: 443, Protocol: "https", Path: "typesense/"}, "https://search.example:443/typesense"},
		{Config{Host: "ts", Port: 8108, Protocol: "http", Path: "/api"}, "http://ts:8108/api"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cfg.ServerURL())
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Host: "localhost", Port: 8108}, nil)
	require.Error(t, err)
	_, err = New(Config{APIKey: "k", Port: 8108}, nil)
	require.Error(t, err)
}

func TestCollectionSchemaMapsFields(t *testing.T) {
	t.Parallel()

	schema := collectionSchema(archive.Schema{
		Name: "documents",
		Fields: []archive.Field{
			{Name: "title_id", Type: "string"},
			{Name: "datum", Type: "string", Optional: true},
			{Name: "ocr_text_original", Type: "string", Locale: "de"},
		},
	})
	assert.Equal(t, "documents", schema.Name)
	require.Len(t, schema.Fields, 3)
	assert.Nil(t, schema.Fields[0].Optional)
	assert.Nil(t, schema.Fields[0].Locale)
	require.NotNil(t, schema.Fields[1].Optional)
	assert.True(t, *schema.Fields[1].Optional)
	require.NotNil(t, schema.Fields[2].Locale)
	assert.Equal(t, "de", *schema.Fields[2].Locale)
}

func TestCheckImport(t *testing.T) {
	t.Parallel()

	require.NoError(t, checkImport(strings.NewReader("{\"success\":true}\n{\"success\":true}\n")))

	err := checkImport(strings.NewReader("{\"success\":true}\n{\"success\":false,\"error\":\"Field `title_id` has been declared in the schema, but is not found in the document.\"}\n"))
	require.ErrorContains(t, err, "1 documents rejected")
	assert.ErrorContains(t, err, "document 2")
}

// fakeTypesense records requests and answers like a Typesense node.
type fakeTypesense struct {
	mu       sync.Mutex
	requests []string
	imported []string
	created  map[string]any
}

func (f *fakeTypesense) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-TYPESENSE-API-KEY"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			_, _ = io.WriteString(w, `{"ok":true}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/collections/documents":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"Not Found"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/collections":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.created = body
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"name":"documents","fields":[],"num_documents":0,"created_at":1}`)
		case r.Method == http.MethodPost && r.URL.Path == "/collections/documents/documents/import":
			raw, _ := io.ReadAll(r.Body)
			lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
			f.imported = append(f.imported, lines...)
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, strings.Repeat("{\"success\":true}\n", len(lines)))
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	})
}

func newFakeSink(t *testing.T) (*Sink, *fakeTypesense) {
	t.Helper()
	fake := &fakeTypesense{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	sink, err := New(Config{Host: u.Hostname(), Port: port, APIKey: "secret"}, zap.NewNop())
	require.NoError(t, err)
	return sink, fake
}

func TestSinkAgainstFakeServer(t *testing.T) {
	t.Parallel()

	sink, fake := newFakeSink(t)
	ctx := context.Background()

	ok, err := sink.Healthy(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, sink.DeleteCollection(ctx, "documents"), "missing collection is tolerated")
	require.NoError(t, sink.CreateCollection(ctx, archive.Schema{
		Name:   "documents",
		Fields: []archive.Field{{Name: "datum", Type: "string", Optional: true}},
	}))
	require.NoError(t, sink.ImportBatch(ctx, "documents", []json.RawMessage{
		json.RawMessage(`{"title_id":"sam"}`),
		json.RawMessage(`{"title_id":"vlb"}`),
	}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "documents", fake.created["name"])
	assert.Equal(t, []string{`{"title_id":"sam"}`, `{"title_id":"vlb"}`}, fake.imported)
}
