package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

const (
	archiveContentType = "application/zstd"
	// multipartThreshold is the compressed size above which uploads go through
	// the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// creator is implemented by writers that can upload without overwriting.
type creator interface {
	Create(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ArchiveImpl implements domain.Archiver. Each payload is encoded as JSON,
// compressed with zstd and uploaded under archive/<kind>/.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
	audit  domain.AuditStore
}

// ArchiveOption configures an ArchiveImpl.
type ArchiveOption func(*ArchiveImpl)

// WithPrefix places every object under prefix.
func WithPrefix(prefix string) ArchiveOption {
	return func(a *ArchiveImpl) { a.prefix = strings.Trim(prefix, "/") }
}

// WithAudit records every upload in the audit log.
func WithAudit(audit domain.AuditStore) ArchiveOption {
	return func(a *ArchiveImpl) { a.audit = audit }
}

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case
// existing objects are always overwritten and Load is unavailable.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, opts ...ArchiveOption) *ArchiveImpl {
	a := &ArchiveImpl{writer: writer, reader: reader, prefix: "archive"}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ArchiveStatValidation uploads a stat-validation bundle keyed by fixture,
// sequence and stat keys. A bundle already archived under the same key is
// not uploaded again since the provider's answer for a sequence never changes.
func (a *ArchiveImpl) ArchiveStatValidation(ctx context.Context, sel domain.StatSelector, v domain.StatValidation) (string, error) {
	key := statKey(sel)
	p := a.objectPath("stat_validation", key)
	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, p)
		if err != nil {
			return "", err
		}
		if ok {
			return p, nil
		}
	}
	return p, a.put(ctx, "stat_validation", p, v, true)
}

// ArchiveSnapshot uploads an arbitrary provider payload (fixtures, odds,
// scores, fixture and odds validation bundles) under kind/key.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context, kind string, key string, v any) (string, error) {
	if kind == "" || key == "" {
		return "", fmt.Errorf("s3blob: archive snapshot: kind and key are required")
	}
	p := a.objectPath(kind, key)
	return p, a.put(ctx, kind, p, v, false)
}

// Load downloads the archived object at p and decodes it into v.
func (a *ArchiveImpl) Load(ctx context.Context, p string, v any) error {
	if a.reader == nil {
		return fmt.Errorf("s3blob: load %s: archiver has no reader", p)
	}
	rc, err := a.reader.Get(ctx, p)
	if err != nil {
		return err
	}
	defer rc.Close()

	dec, err := zstd.NewReader(rc)
	if err != nil {
		return fmt.Errorf("s3blob: load %s: %w", p, err)
	}
	defer dec.Close()
	if err := json.NewDecoder(dec).Decode(v); err != nil {
		return fmt.Errorf("s3blob: decode %s: %w: %w", p, domain.ErrMalformedPayload, err)
	}
	return nil
}

// List returns the archived objects of kind.
func (a *ArchiveImpl) List(ctx context.Context, kind string) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: list %s: archiver has no reader", kind)
	}
	return a.reader.List(ctx, a.objectPath(kind, ""))
}

// put uploads v to p. With once set, an object another process wrote to p
// after the Exists check is kept and the upload is dropped.
func (a *ArchiveImpl) put(ctx context.Context, kind, p string, v any, once bool) error {
	buf, err := compressJSON(v)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", p, err)
	}

	c, canCreate := a.writer.(creator)
	switch {
	case len(buf) > multipartThreshold:
		err = a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), 0)
	case once && canCreate:
		err = c.Create(ctx, p, bytes.NewReader(buf), archiveContentType)
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
	default:
		err = a.writer.Put(ctx, p, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return err
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":  p,
			"bytes": len(buf),
		}); err != nil {
			return fmt.Errorf("s3blob: archive %s audit log: %w", p, err)
		}
	}
	return nil
}

func (a *ArchiveImpl) objectPath(kind, key string) string {
	if key == "" {
		return path.Join(a.prefix, kind) + "/"
	}
	return path.Join(a.prefix, kind, key+".json.zst")
}

// statKey names a bundle fixture/seq/stat, with the second stat and operator
// appended for combined selectors.
//
//	17588233/412/1
//	17588233/412/1-Subtract-2
func statKey(sel domain.StatSelector) string {
	k := fmt.Sprintf("%d/%d/%d", sel.FixtureID, sel.Seq, sel.StatKey)
	if sel.StatKeyB != nil {
		op := "Add"
		if sel.Op != nil {
			op = sel.Op.String()
		}
		k += fmt.Sprintf("-%s-%d", op, *sel.StatKeyB)
	}
	return k
}

func compressJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	je := json.NewEncoder(enc)
	je.SetEscapeHTML(false)
	if err := je.Encode(v); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
