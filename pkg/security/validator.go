// Package security bounds what an untrusted release archive may write when
// it is unpacked: no entry may escape the destination and the unpacked size
// is capped per file, in total and relative to the archive size.
package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

// Limits caps an unpack.
type Limits struct {
	MaxFileSize         int64
	MaxTotalSize        int64
	MaxCompressionRatio float64
}

// DefaultLimits fits a database server distribution with headroom.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:         1 << 30,
		MaxTotalSize:        4 << 30,
		MaxCompressionRatio: 100,
	}
}

// Validator tracks one unpack against its Limits. It is safe for concurrent use.
type Validator struct {
	limits Limits

	mu        sync.Mutex
	extracted int64
}

// NewValidator creates a validator.
func NewValidator(limits Limits) *Validator {
	slog.Debug("security_validator_init",
		"max_file_size_mb", limits.MaxFileSize/1024/1024,
		"max_total_size_mb", limits.MaxTotalSize/1024/1024,
		"max_compression_ratio", limits.MaxCompressionRatio)

	return &Validator{limits: limits}
}

// ValidatePath rejects entry names that are absolute or climb out of the
// destination.
func (v *Validator) ValidatePath(name string) error {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		slog.Error("security_path_rejected", "path", name, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", name)
	}

	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_path_rejected", "path", name, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", name)
	}
	return nil
}

// ValidateSymlink rejects links whose target, resolved from the link's own
// directory, leaves the destination. Absolute targets are rejected too: an
// installation tree must be relocatable.
func (v *Validator) ValidateSymlink(linkPath, target string) error {
	if filepath.IsAbs(target) {
		slog.Error("security_symlink_rejected", "symlink", linkPath, "target", target, "reason", "absolute_target")
		return fmt.Errorf("security: absolute symlink target not allowed: %s -> %s", linkPath, target)
	}

	resolved := filepath.Clean(filepath.Join(filepath.Dir(linkPath), target))
	if resolved == ".." || strings.HasPrefix(resolved, ".."+string(filepath.Separator)) {
		slog.Error("security_symlink_rejected", "symlink", linkPath, "target", target, "resolved", resolved)
		return fmt.Errorf("security: symlink %s -> %s escapes the destination", linkPath, target)
	}
	return nil
}

// AddFile checks one regular file's size and adds it to the running total.
func (v *Validator) AddFile(name string, size int64) error {
	if size > v.limits.MaxFileSize {
		slog.Error("security_file_size_exceeded", "path", name, "file_size_mb", size/1024/1024)
		return fmt.Errorf("security: %s is %d bytes, max %d", name, size, v.limits.MaxFileSize)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.extracted += size
	if v.extracted > v.limits.MaxTotalSize {
		slog.Error("security_total_size_exceeded", "current_total_mb", v.extracted/1024/1024)
		return fmt.Errorf("security: unpacked size %d exceeds max %d", v.extracted, v.limits.MaxTotalSize)
	}
	return nil
}

// ValidateRatio compares the unpacked total with the archive size.
func (v *Validator) ValidateRatio(archiveSize int64) error {
	if archiveSize <= 0 {
		return fmt.Errorf("security: archive size must be positive")
	}

	total := v.Extracted()
	ratio := float64(total) / float64(archiveSize)
	if ratio > v.limits.MaxCompressionRatio {
		slog.Error("security_compression_bomb_detected", "ratio", ratio, "max_ratio", v.limits.MaxCompressionRatio)
		return fmt.Errorf("security: compression ratio %.2f exceeds max %.2f", ratio, v.limits.MaxCompressionRatio)
	}
	return nil
}

// Extracted returns the bytes accounted so far.
func (v *Validator) Extracted() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.extracted
}

// Reset clears the running total for a new unpack.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.extracted = 0
}
