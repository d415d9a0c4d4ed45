package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/auth"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
}

// ResolveInputFiles checks that every path is a regular image file and
// returns the absolute paths in the same order.
func ResolveInputFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files")
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("file not found: %s", p)
			}
			return nil, fmt.Errorf("failed to access %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("not a regular file: %s", p)
		}
		if !supportedExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil, fmt.Errorf("unsupported image type: %s", p)
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, p)
	}
	return out, nil
}

// HandleValidationError processes auth.ValidationError and exits with appropriate messaging.
func HandleValidationError(provider string, err error) {
	var validationErr *auth.ValidationError
	if errors.As(err, &validationErr) {
		l := log.Fatal().Str("provider", provider)
		switch validationErr.Type {
		case auth.ErrTypeNoKey:
			l.Msg("No API key configured. Set the provider key variable or store it in ~/.card-restore")
		case auth.ErrTypeInvalidKey:
			l.Err(err).Msg("Invalid API key. Please check your API key and try again")
		case auth.ErrTypeNetworkError:
			l.Err(err).Msg("Network error. Please check your internet connection")
		case auth.ErrTypeQuotaExceeded:
			l.Err(err).Msg("API quota exceeded. Please try again later or check your usage limits")
		default:
			l.Err(err).Msg("API key validation failed")
		}
	} else {
		log.Fatal().Err(err).Str("provider", provider).Msg("unexpected error during API key validation")
	}
	os.Exit(1)
}
