// Package artifact stores signature images under a single root directory.
package artifact

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/punchamoorthee/cashflow/internal/domain"
)

// ErrOutsideRoot is returned for references that resolve outside the storage root.
var ErrOutsideRoot = errors.New("artifact reference escapes storage root")

const (
	DefaultMaxWidth  = 1200
	DefaultMaxHeight = 600
)

// FileStore writes normalized PNG files to root/req_<id>/.
type FileStore struct {
	root      string
	maxWidth  int
	maxHeight int
}

// NewFileStore creates root if needed. Images larger than the default
// bounding box are scaled down on save.
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root %s: %w", abs, err)
	}
	return &FileStore{root: abs, maxWidth: DefaultMaxWidth, maxHeight: DefaultMaxHeight}, nil
}

func (s *FileStore) Root() string { return s.root }

// Save decodes data as an image and stores it as PNG, returning a root-relative reference.
func (s *FileStore) Save(requestID, userID int64, attempt int, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", domain.ErrInvalidArtifact)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidArtifact, err)
	}
	b := img.Bounds()
	if b.Dx() > s.maxWidth || b.Dy() > s.maxHeight {
		img = imaging.Fit(img, s.maxWidth, s.maxHeight, imaging.Lanczos)
	}

	dir := filepath.Join(s.root, fmt.Sprintf("req_%d", requestID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	name := fmt.Sprintf("sig_%d_a%d_%s.png", userID, attempt, uuid.NewString())
	if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return filepath.ToSlash(filepath.Join(fmt.Sprintf("req_%d", requestID), name)), nil
}

// Resolve maps a reference to an absolute path inside the root.
func (s *FileStore) Resolve(ref string) (string, error) {
	if ref == "" || filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
		return "", ErrOutsideRoot
	}
	p := filepath.Join(s.root, filepath.FromSlash(ref))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return p, nil
}

// Remove deletes the file behind ref. Missing files are not an error.
func (s *FileStore) Remove(ref string) error {
	p, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

var dataURLRE = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,(.+)$`)

// DecodeDataURL accepts a base64 image data URL or bare base64.
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: signature is required", domain.ErrInvalidArtifact)
	}
	if m := dataURLRE.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", domain.ErrInvalidArtifact)
	}
	return raw, nil
}
