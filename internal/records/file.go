// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package records

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/portsample-ebpf/internal/types"
)

// FileConfig controls the CSV file. Without Append an existing file is
// truncated at start; rotated backups are left for MaxBackups and
// MaxAgeDays to prune. Rotation fields follow lumberjack (0 = its default).
type FileConfig struct {
	Path       string
	Append     bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// lumberjack's size limit when MaxSize is 0.
const defaultMaxSizeMB = 100

type FileSink struct {
	mu   sync.Mutex
	lj   *lumberjack.Logger
	w    *bufio.Writer
	line []byte

	// bytes in the current file, including buffered ones
	size     int64
	maxBytes int64
}

func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("records: file sink requires a path")
	}
	if !cfg.Append {
		if err := os.Remove(cfg.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("truncate %s: %w", cfg.Path, err)
		}
	}
	var size int64
	if st, err := os.Stat(cfg.Path); err == nil {
		size = st.Size()
	}
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = defaultMaxSizeMB
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	s := &FileSink{
		lj:       lj,
		w:        bufio.NewWriterSize(lj, 64<<10),
		size:     size,
		maxBytes: int64(maxMB) << 20,
	}
	if size == 0 {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
	}
	slog.Info("record file opened", "path", cfg.Path, "append", cfg.Append)
	return s, nil
}

// Write appends one line per sample and flushes the batch.
func (s *FileSink) Write(_ context.Context, evs []types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range evs {
		s.line = append(AppendCSV(s.line[:0], ev), '\n')
		if s.size+int64(len(s.line)) > s.maxBytes {
			if err := s.rotate(); err != nil {
				return err
			}
		}
		if _, err := s.w.Write(s.line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		s.size += int64(len(s.line))
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	return nil
}

// rotate starts a new file before lumberjack would, so that every file
// begins with the header.
func (s *FileSink) rotate() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	if err := s.lj.Rotate(); err != nil {
		return fmt.Errorf("rotate records: %w", err)
	}
	s.size = 0
	return s.writeHeader()
}

func (s *FileSink) writeHeader() error {
	n, err := s.w.WriteString(Header + "\n")
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	s.size += int64(n)
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ferr := s.w.Flush()
	if err := s.lj.Close(); err != nil {
		return err
	}
	return ferr
}
