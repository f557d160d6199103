package userdata

import (
	"context"
	"errors"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
)

// FallbackSource loads from the first source that has user data
type FallbackSource struct {
	sources []port.AttendeeSource
}

// NewFallbackSource tries the sources in order. Only ErrNoUserData moves on
// to the next source; any other error is returned as is.
func NewFallbackSource(sources ...port.AttendeeSource) *FallbackSource {
	return &FallbackSource{sources: sources}
}

func (s *FallbackSource) Load(ctx context.Context) (names, projects []string, err error) {
	err = ErrNoUserData
	for _, src := range s.sources {
		names, projects, err = src.Load(ctx)
		if !errors.Is(err, ErrNoUserData) {
			return names, projects, err
		}
	}
	return nil, nil, err
}
