package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/discovery"
	"github.com/zeynepaki/tgv-prototype/internal/hocr"
	"github.com/zeynepaki/tgv-prototype/internal/ledger/sidecar"
	"github.com/zeynepaki/tgv-prototype/internal/storage/local"
)

type fakeGetter struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
}

func newFakeGetter(bodies map[string]string) *fakeGetter {
	return &fakeGetter{bodies: bodies, calls: make(map[string]int)}
}

func (f *fakeGetter) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	body, ok := f.bodies[url]
	if !ok {
		return nil, &archive.RemoteError{URL: url, StatusCode: 404, Err: errors.New("not found")}
	}
	return []byte(body), nil
}

func (f *fakeGetter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeLinks map[string][]string

func (f fakeLinks) Links(_ context.Context, url string) ([]string, error) {
	hrefs, ok := f[url]
	if !ok {
		return nil, fmt.Errorf("no page at %s", url)
	}
	return hrefs, nil
}

func newTestDeps(t *testing.T, getter archive.Getter, links archive.LinkLister) Deps {
	t.Helper()
	root := t.TempDir()
	store, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)
	return Deps{
		DataRoot: root,
		Getter:   getter,
		Links:    links,
		Store:    store,
		Ledger:   sidecar.New(root),
		HOCR:     hocr.Converter{},
		Logger:   zap.NewNop(),
	}
}

func TestParseArtifact(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, newFakeGetter(nil), fakeLinks{})
	abo, err := NewABO("https://iiif.test", "ABO", "", deps)
	require.NoError(t, err)
	mdz, err := NewMDZ("https://mdz.test", deps)
	require.NoError(t, err)
	anno, err := NewANNO("https://anno.test", nil, discovery.Options{}, deps)
	require.NoError(t, err)

	tests := []struct {
		name    string
		proc    archive.Processor
		rel     string
		want    archive.Artifact
		wantErr bool
	}{
		{
			name: "abo page",
			proc: abo,
			rel:  "ABO/+Z1/txt/00000007.txt",
			want: archive.Artifact{Source: archive.KindABO, Project: "ABO", Item: "+Z1", Page: "00000007", Format: archive.FormatText},
		},
		{
			name: "abo second resource",
			proc: abo,
			rel:  "ABO/+Z1/txt/3~2.txt",
			want: archive.Artifact{Source: archive.KindABO, Project: "ABO", Item: "+Z1", Page: "3", Index: 2, Format: archive.FormatText},
		},
		{name: "abo missing project", proc: abo, rel: "+Z1/txt/1.txt", wantErr: true},
		{
			name: "mdz page",
			proc: mdz,
			rel:  "bsb10000001/txt/5.txt",
			want: archive.Artifact{Source: archive.KindMDZ, Item: "bsb10000001", Page: "5", Format: archive.FormatText},
		},
		{name: "mdz extension mismatch", proc: mdz, rel: "bsb10000001/txt/5.hocr", wantErr: true},
		{
			name: "anno page",
			proc: anno,
			rel:  "sam/18100102/txt/2.txt",
			want: archive.Artifact{Source: archive.KindANNO, Item: "sam", Datum: "18100102", Page: "2", Format: archive.FormatText},
		},
		{name: "anno combined file", proc: anno, rel: "sam/18100102/18100102.combined", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.proc.ParseArtifact(tt.rel)
			if tt.wantErr {
				require.ErrorIs(t, err, archive.ErrUnparseablePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(tt.proc.Kind().Root(deps.DataRoot), tt.rel), got.Path)
			got.Path = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	got, err := decodeText([]byte("\xef\xbb\xbfWien"))
	require.NoError(t, err)
	assert.Equal(t, "Wien", got)

	got, err = decodeText([]byte("M\xfcller \x96 Stra\xdfe"))
	require.NoError(t, err)
	assert.Equal(t, "Müller – Straße", got)
}

func TestLabelNamer(t *testing.T) {
	t.Parallel()

	names := make(labelNamer)
	assert.Equal(t, "1", names.next("1"))
	assert.Equal(t, "1~2", names.next("1"))
	assert.Equal(t, "a_b", names.next("a/b"))
	assert.Equal(t, "A_2", names.next("A~2"))

	page, idx := splitStem("1~2")
	assert.Equal(t, "1", page)
	assert.Equal(t, 2, idx)
	page, idx = splitStem("x~y")
	assert.Equal(t, "x~y", page)
	assert.Zero(t, idx)
}
