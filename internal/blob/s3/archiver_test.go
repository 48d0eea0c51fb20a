package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	return m.Put(ctx, p, data, "")
}

func (m *memBlobs) Get(_ context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[p]
	return ok, nil
}

// createBlobs adds write-once uploads to memBlobs.
type createBlobs struct{ *memBlobs }

func (c createBlobs) Create(ctx context.Context, p string, data io.Reader, ct string) error {
	if ok, _ := c.Exists(ctx, p); ok {
		return domain.ErrAlreadyExists
	}
	return c.Put(ctx, p, data, ct)
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveStatValidationOnce(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, WithAudit(audit))
	ctx := context.Background()

	sel := domain.StatSelector{FixtureID: 17588233, Seq: 412, StatKey: 1}
	v := domain.StatValidation{Ts: 1700000000000}

	p, err := a.ArchiveStatValidation(ctx, sel, v)
	if err != nil {
		t.Fatalf("ArchiveStatValidation: %v", err)
	}
	if want := "archive/stat_validation/17588233/412/1.json.zst"; p != want {
		t.Errorf("path = %q, want %q", p, want)
	}
	if _, err := a.ArchiveStatValidation(ctx, sel, v); err != nil {
		t.Fatalf("second ArchiveStatValidation: %v", err)
	}
	if blobs.puts != 1 {
		t.Errorf("puts = %d, want 1", blobs.puts)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.stat_validation" {
		t.Errorf("audit events = %v", audit.events)
	}

	var got domain.StatValidation
	if err := a.Load(ctx, p, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Ts != v.Ts {
		t.Errorf("Ts = %d, want %d", got.Ts, v.Ts)
	}
}

func TestArchiveStatValidationKeepsRacingWriter(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	// No reader, so the Exists check is skipped and Create decides.
	a := NewArchiver(createBlobs{blobs}, nil, WithAudit(audit))
	ctx := context.Background()
	sel := domain.StatSelector{FixtureID: 17588233, Seq: 412, StatKey: 1}

	p, err := a.ArchiveStatValidation(ctx, sel, domain.StatValidation{Ts: 1})
	if err != nil {
		t.Fatalf("first ArchiveStatValidation: %v", err)
	}
	if _, err := a.ArchiveStatValidation(ctx, sel, domain.StatValidation{Ts: 2}); err != nil {
		t.Fatalf("second ArchiveStatValidation: %v", err)
	}
	if blobs.puts != 1 {
		t.Errorf("puts = %d, want 1", blobs.puts)
	}
	if len(audit.events) != 1 {
		t.Errorf("audit events = %v, want one", audit.events)
	}

	var got domain.StatValidation
	if err := NewArchiver(blobs, blobs).Load(ctx, p, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Ts != 1 {
		t.Errorf("Ts = %d, want the first upload's 1", got.Ts)
	}
}

func TestArchiveSnapshotIsZstd(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil, WithPrefix("/oracle/"))

	p, err := a.ArchiveSnapshot(context.Background(), "fixtures", "2024-05-01", map[string]int{"fixtures": 3})
	if err != nil {
		t.Fatalf("ArchiveSnapshot: %v", err)
	}
	if want := "oracle/fixtures/2024-05-01.json.zst"; p != want {
		t.Errorf("path = %q, want %q", p, want)
	}

	dec, err := zstd.NewReader(bytes.NewReader(blobs.objects[p]))
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if got := strings.TrimSpace(string(raw)); got != `{"fixtures":3}` {
		t.Errorf("payload = %s", got)
	}

	if _, err := a.ArchiveSnapshot(context.Background(), "", "k", 1); err == nil {
		t.Error("empty kind: want error")
	}
	if err := a.Load(context.Background(), p, new(any)); err == nil {
		t.Error("Load without reader: want error")
	}
}

func TestStatKeyCombined(t *testing.T) {
	b := uint16(2)
	op := domain.BinaryOpSubtract
	got := statKey(domain.StatSelector{FixtureID: 9, Seq: 3, StatKey: 1, StatKeyB: &b, Op: &op})
	if want := "9/3/1-Subtract-2"; got != want {
		t.Errorf("statKey = %q, want %q", got, want)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio", false, "http://minio"},
		{"10.0.0.5:9000", true, "https://10.0.0.5:9000"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}
