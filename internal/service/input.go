package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"slices"
	"strings"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/task"
)

// errNoContractText marks inputs that yield no analyzable text.
var errNoContractText = fmt.Errorf("no contract text provided: %w", domain.ErrValidation)

// errUnsupportedFile marks file parts that are skipped.
var errUnsupportedFile = errors.New("unsupported file type")

// FileError reports an uploaded file that has a supported type but could
// not be decoded or parsed. It fails the whole task.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("failed to parse uploaded file %q: %v", e.Name, e.Err)
}

// Unwrap classifies the failure as a validation error.
func (e *FileError) Unwrap() []error { return []error{domain.ErrValidation, e.Err} }

// ExtractText joins the text parts and inline documents of a user
// message, separated by blank lines. Files of unsupported media types are
// skipped; a supported file that cannot be parsed returns a *FileError.
func ExtractText(ctx context.Context, msg task.Message) (string, error) {
	var parts []string
	for i, p := range msg.Parts {
		switch p.Type {
		case task.PartText:
			if s := strings.TrimSpace(p.Text); s != "" {
				parts = append(parts, s)
			}
		case task.PartFile:
			if p.File == nil {
				continue
			}
			text, err := decodeFile(p.File)
			if errors.Is(err, errUnsupportedFile) {
				slog.WarnContext(ctx, "skipping file part", "index", i, "name", p.File.Name, "error", err)
				continue
			}
			if err != nil {
				name := p.File.Name
				if name == "" {
					name = "unknown"
				}
				return "", &FileError{Name: name, Err: err}
			}
			if s := strings.TrimSpace(text); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		return "", errNoContractText
	}
	return strings.Join(parts, "\n\n"), nil
}

// decodeFile returns the text content of an inline file. Bytes may be a
// data: URI or plain base64 with MimeType set.
func decodeFile(f *task.FileContent) (string, error) {
	raw := f.Bytes
	if raw == "" {
		raw = f.URI
	}
	mediaType := f.MimeType
	isBase64 := true
	rest, isDataURI := strings.CutPrefix(raw, "data:")
	var header string
	if isDataURI {
		var found bool
		header, raw, found = strings.Cut(rest, ",")
		if !found {
			return "", errors.New("malformed data uri")
		}
		isBase64 = strings.HasSuffix(header, ";base64")
		header = strings.TrimSuffix(header, ";base64")
		switch {
		case header != "":
			mediaType = header
		case mediaType == "":
			mediaType = mediaText
		}
	}

	mt, ok := supportedType(mediaType)
	if !ok {
		return "", fmt.Errorf("%w %q, supported types: %s", errUnsupportedFile, mediaType, strings.Join(supportedMedia, ", "))
	}

	switch {
	case raw == "":
		return "", errors.New("file has no content")
	case f.Bytes == "" && !isDataURI:
		return "", fmt.Errorf("external file uri %q is not fetched", f.URI)
	}

	var b []byte
	if isBase64 {
		var err error
		if b, err = base64.StdEncoding.DecodeString(raw); err != nil {
			return "", fmt.Errorf("decode base64: %w", err)
		}
	} else {
		s, err := url.PathUnescape(raw)
		if err != nil {
			return "", fmt.Errorf("decode data uri: %w", err)
		}
		b = []byte(s)
	}
	return documentText(mt, b)
}

func supportedType(mediaType string) (string, bool) {
	if mediaType == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return "", false
	}
	return mt, slices.Contains(supportedMedia, mt)
}
