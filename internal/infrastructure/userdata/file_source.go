// Package userdata stores the attendee name and project pools of a data
// directory in a small text file.
package userdata

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	// FileName is the pool file inside a data directory
	FileName = "user_data.txt"
	// LegacyNamesFile holds names only, one per line
	LegacyNamesFile = "names.txt"
	// Separator divides the names section from the projects section
	Separator = "######"
)

// ErrNoUserData is returned when a data directory has no pool file
var ErrNoUserData = errors.New("no user data file")

// FileSource implements port.AttendeeSource on top of user_data.txt
type FileSource struct {
	dir    string
	logger *zap.Logger
}

// NewFileSource creates a source for the given data directory
func NewFileSource(dir string, logger *zap.Logger) *FileSource {
	return &FileSource{dir: dir, logger: logger}
}

// Path returns the pool file location
func (s *FileSource) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads names and projects. The first name is the payer. A directory
// that only has the older names.txt yields names and no projects.
func (s *FileSource) Load(ctx context.Context) (names, projects []string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		legacy, legacyErr := os.ReadFile(filepath.Join(s.dir, LegacyNamesFile))
		if legacyErr != nil {
			return nil, nil, fmt.Errorf("%w in %s", ErrNoUserData, s.dir)
		}
		s.logger.Info("Using legacy names file", zap.String("dir", s.dir))
		if names, _, err = Parse(legacy); err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", LegacyNamesFile, err)
		}
		return names, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read user data: %w", err)
	}

	if names, projects, err = Parse(data); err != nil {
		return nil, nil, fmt.Errorf("failed to parse user data: %w", err)
	}
	s.logger.Debug("Loaded user data",
		zap.String("path", s.Path()),
		zap.Int("names", len(names)),
		zap.Int("projects", len(projects)))
	return names, projects, nil
}

// Save writes the pools in the file format read by Load
func (s *FileSource) Save(ctx context.Context, names, projects []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(s.Path(), Format(names, projects), 0644); err != nil {
		return fmt.Errorf("failed to write user data: %w", err)
	}
	s.logger.Info("Saved user data",
		zap.String("path", s.Path()),
		zap.Int("names", len(names)),
		zap.Int("projects", len(projects)))
	return nil
}

// Parse splits file content into names and projects. Blank lines are ignored
// and duplicates are dropped keeping the first occurrence. A line the scanner
// cannot read fails the whole parse rather than truncating the pools.
func Parse(data []byte) (names, projects []string, err error) {
	sections := [2][]string{}
	seen := [2]map[string]bool{{}, {}}
	section := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == Separator:
			if section == 0 {
				section = 1
			}
		case !seen[section][line]:
			seen[section][line] = true
			sections[section] = append(sections[section], line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return sections[0], sections[1], nil
}

// Format renders pools in the user_data.txt layout
func Format(names, projects []string) []byte {
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(strings.TrimSpace(n))
		buf.WriteByte('\n')
	}
	buf.WriteString(Separator)
	buf.WriteByte('\n')
	for _, p := range projects {
		buf.WriteString(strings.TrimSpace(p))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
