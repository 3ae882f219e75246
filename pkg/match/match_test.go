package match

import (
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haivivi/designmatch/internal/testimg"
	"github.com/haivivi/designmatch/pkg/catalog"
	"github.com/haivivi/designmatch/pkg/engine"
	"github.com/haivivi/designmatch/pkg/fetch"
	"github.com/haivivi/designmatch/pkg/imagefeat"
	"github.com/haivivi/designmatch/pkg/vecstore"
)

var extractor = imagefeat.Extractor{HueBins: 10, SatBins: 8}

type fixedSnapshots struct{ snap *engine.Snapshot }

func (f fixedSnapshots) Current() (*engine.Snapshot, bool) { return f.snap, f.snap != nil }

type fakePresigner struct{ calls atomic.Int32 }

func (p *fakePresigner) Presign(_ context.Context, path string, ttl time.Duration) (string, error) {
	p.calls.Add(1)
	return "https://signed.example/" + path + "?ttl=" + ttl.String(), nil
}

func describe(t *testing.T, c color.Color) []float32 {
	t.Helper()
	d, err := extractor.Describe(testimg.Solid(c, 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func testSnapshot(t *testing.T) *engine.Snapshot {
	t.Helper()
	entries := []catalog.Entry{
		{ID: "Red_Wrap", Name: "Red Wrap", Price: 15000, Descriptor: describe(t, testimg.Red),
			Provenance: catalog.Internal, ImageRef: "designs/Red_Wrap.png"},
		{ID: "Green_Boubou", Name: "Green Boubou", Price: 15000, Descriptor: describe(t, testimg.Green),
			Provenance: catalog.Internal, ImageRef: "designs/Green_Boubou.png"},
		{ID: "p1", Name: "Blue Agbada", Price: 32500.5, Descriptor: describe(t, testimg.Blue),
			Provenance: catalog.External, ImageRef: "https://cdn.example/blue.png", ThumbnailRef: "https://cdn.example/blue_200x200.png"},
		{ID: "p2", Name: "Grey Buba", Price: 9000, Descriptor: describe(t, testimg.Grey),
			Provenance: catalog.External, ImageRef: "https://cdn.example/grey.png"},
	}
	snap, err := engine.NewSnapshot(catalog.New(entries))
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

// imageServer serves query images. HEAD always reflects GET's status except
// for /broken.png, which only fails on GET.
func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/red.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(testimg.PNG(testimg.Solid(testimg.Red, 16, 16)))
	})
	mux.HandleFunc("/grey.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(testimg.PNG(testimg.Solid(testimg.Grey, 16, 16)))
	})
	mux.HandleFunc("/corrupt.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("definitely not an image"))
	})
	mux.HandleFunc("/broken.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newService(snap *engine.Snapshot, linker Linker) *Service {
	return &Service{
		Snapshots: fixedSnapshots{snap},
		Fetcher:   fetch.New(fetch.WithTimeout(5 * time.Second)),
		Pool:      imagefeat.NewPool(extractor, 2),
		Linker:    linker,
	}
}

func TestMatchEmptyCatalog(t *testing.T) {
	srv := imageServer(t)
	empty, err := engine.NewSnapshot(catalog.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	for _, snap := range []*engine.Snapshot{nil, empty} {
		got := newService(snap, nil).Match(context.Background(), "+2348000000000", srv.URL+"/red.png", srv.URL+"/grey.png")
		if got != msgNotReady {
			t.Fatalf("Match = %q, want %q", got, msgNotReady)
		}
	}
}

func TestMatchWithoutImages(t *testing.T) {
	for _, snap := range []*engine.Snapshot{nil, testSnapshot(t)} {
		got := newService(snap, nil).Match(context.Background(), "+2348000000000")
		if got != msgNoImage {
			t.Fatalf("Match() = %q, want %q", got, msgNoImage)
		}
	}
}

func TestMatchSelf(t *testing.T) {
	srv := imageServer(t)
	presigner := &fakePresigner{}
	s := newService(testSnapshot(t), &DefaultLinker{Presigner: presigner})

	got := s.Match(context.Background(), "sender", srv.URL+"/red.png")
	want := strings.Join([]string{
		"Here are the closest matches to your design:",
		"Red Wrap (Price: ₦15000, Similarity: 1.00): https://signed.example/designs/Red_Wrap.png?ttl=30m0s",
		"Green Boubou (Price: ₦15000, Similarity: 0.00): https://signed.example/designs/Green_Boubou.png?ttl=30m0s",
		"Blue Agbada (Price: ₦32500.5, Similarity: 0.00): https://cdn.example/blue_200x200.png",
	}, "\n")
	if got != want {
		t.Fatalf("Match =\n%s\nwant\n%s", got, want)
	}
	if n := presigner.calls.Load(); n != 2 {
		t.Fatalf("presign calls = %d, want 2", n)
	}

	results, err := s.Query(context.Background(), srv.URL+"/red.png")
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Entry.ID != "Red_Wrap" || results[0].Similarity < 0.95 || results[0].Rank != 1 {
		t.Fatalf("top result = %+v", results[0])
	}
}

func TestMatchMixedBatchKeepsOrder(t *testing.T) {
	srv := imageServer(t)
	s := newService(testSnapshot(t), nil)
	s.Options.TopN = 1

	urls := []string{
		srv.URL + "/grey.png",
		srv.URL + "/missing.png",
		srv.URL + "/corrupt.png",
		srv.URL + "/broken.png",
		"not a url",
		srv.URL + "/red.png",
	}
	got := s.Match(context.Background(), "sender", urls...)
	want := strings.Join([]string{
		"Here are the closest matches to your design:\nGrey Buba (Price: ₦9000, Similarity: 1.00)",
		"The image URL " + urls[1] + " is invalid or inaccessible. Please try again.",
		"Sorry, I couldn't process the image " + urls[2] + ". Could you send a clearer one?",
		"Sorry, something went wrong while processing " + urls[3] + ". Please try again later.",
		"The image URL not a url is invalid or inaccessible. Please try again.",
		"Here are the closest matches to your design:\nRed Wrap (Price: ₦15000, Similarity: 1.00)",
	}, "\n\n")
	if got != want {
		t.Fatalf("Match =\n%s\nwant\n%s", got, want)
	}
}

func TestQueryErrors(t *testing.T) {
	srv := imageServer(t)
	s := newService(testSnapshot(t), nil)
	ctx := context.Background()

	if _, err := s.Query(ctx, srv.URL+"/missing.png"); !isValidation(err) {
		t.Errorf("missing: err = %v, want *fetch.ValidationError", err)
	}
	if _, err := s.Query(ctx, srv.URL+"/broken.png"); err == nil {
		t.Error("broken: expected error")
	} else if de, ok := fetch.AsDownloadError(err); !ok || de.Status != http.StatusInternalServerError {
		t.Errorf("broken: err = %v, want *fetch.DownloadError 500", err)
	}
	var decodeErr *imagefeat.DecodeError
	if _, err := s.Query(ctx, srv.URL+"/corrupt.png"); !errors.As(err, &decodeErr) {
		t.Errorf("corrupt: err = %v, want *imagefeat.DecodeError", err)
	}

	notReady := newService(nil, nil)
	if _, err := notReady.Query(ctx, srv.URL+"/red.png"); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("not ready: err = %v, want engine.ErrNotReady", err)
	}
}

func TestReplyNoNeighbours(t *testing.T) {
	srv := imageServer(t)
	s := newService(nil, nil)
	empty, err := vecstore.Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	snap := &engine.Snapshot{Catalog: testSnapshot(t).Catalog, Index: empty}

	u := srv.URL + "/red.png"
	got := s.reply(context.Background(), snap, "sender", u)
	if want := "Sorry, I couldn't find any matching designs for " + u + "."; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestDefaultLinker(t *testing.T) {
	ctx := context.Background()
	p := &fakePresigner{}
	tests := []struct {
		name   string
		linker *DefaultLinker
		entry  catalog.Entry
		want   string
	}{
		{"internal presigned", &DefaultLinker{Presigner: p, TTL: time.Minute},
			catalog.Entry{Provenance: catalog.Internal, ImageRef: "designs/a.jpeg"},
			"https://signed.example/designs/a.jpeg?ttl=1m0s"},
		{"internal without presigner", &DefaultLinker{},
			catalog.Entry{Provenance: catalog.Internal, ImageRef: "designs/a.jpeg"}, ""},
		{"external thumbnail", &DefaultLinker{},
			catalog.Entry{Provenance: catalog.External, ImageRef: "https://x/a.jpg", ThumbnailRef: "https://x/a_200x200.jpg"},
			"https://x/a_200x200.jpg"},
		{"external original", &DefaultLinker{},
			catalog.Entry{Provenance: catalog.External, ImageRef: "https://x/a.jpg"}, "https://x/a.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.linker.Link(ctx, tt.entry)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("Link = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{15000, "15000"},
		{12500.5, "12500.5"},
		{0, "0"},
		{1999.99, "1999.99"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCurrency(t *testing.T) {
	got := Format([]Result{{Entry: catalog.Entry{Name: "Kaftan", Price: 20}, Similarity: 0.876}}, "$")
	want := "Here are the closest matches to your design:\nKaftan (Price: $20, Similarity: 0.88)"
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}
