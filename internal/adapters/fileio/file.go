package fileio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks the file format from the extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidInput, filepath.Ext(path))
}

func Read(r io.Reader, format Format) ([]domain.Question, error) {
	switch format {
	case FormatJSON:
		return ReadJSON(r)
	case FormatXLSX:
		return ReadXLSX(r)
	}
	return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidInput, format)
}

func Write(w io.Writer, format Format, qs []domain.Question) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, qs)
	case FormatXLSX:
		return WriteXLSX(w, qs)
	}
	return fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidInput, format)
}

func ReadFile(path string) ([]domain.Question, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, format)
}

func WriteFile(path string, qs []domain.Question) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, format, qs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
