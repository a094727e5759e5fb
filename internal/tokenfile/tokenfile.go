// Package tokenfile reads and writes the session file: the OAuth2 token issued
// by the identity provider plus the signed-in identity cached alongside it.
// It is a leaf package shared by identity/ and the CLI.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// File is the on-disk session format.
type File struct {
	Token    *oauth2.Token `json:"token"`
	Identity string        `json:"identity,omitempty"`
	SavedAt  time.Time     `json:"saved_at"`
}

// Load reads the session file at path. Returns (nil, nil) if it does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "signed out"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var sf File
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if sf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field (sign in again)", path)
	}

	return &sf, nil
}

// Save writes the session file atomically (temp file + rename) with 0600
// permissions. SavedAt is stamped here. Never logs token values.
func Save(path string, sf *File) error {
	if sf == nil || sf.Token == nil {
		return errors.New("tokenfile: refusing to save a session without a token")
	}

	stamped := *sf
	stamped.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(stamped, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeAndSync(tmp, data); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	committed = true

	return nil
}

// writeAndSync sets permissions, writes data, fsyncs and closes f.
func writeAndSync(f *os.File, data []byte) error {
	if err := f.Chmod(FilePerms); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	return nil
}

// SaveToken replaces the token in the session file, keeping the cached
// identity. Used when the oauth2 library refreshes the token silently.
func SaveToken(path string, tok *oauth2.Token) error {
	existing, err := Load(path)
	if err != nil {
		return err
	}

	sf := &File{Token: tok}
	if existing != nil {
		sf.Identity = existing.Identity
	}

	return Save(path, sf)
}

// SetIdentity records the signed-in identity in an existing session file.
func SetIdentity(path, identity string) error {
	sf, err := Load(path)
	if err != nil {
		return err
	}

	if sf == nil {
		return fmt.Errorf("tokenfile: no session at %s", path)
	}

	if sf.Identity == identity {
		return nil
	}

	sf.Identity = identity

	return Save(path, sf)
}

// Remove deletes the session file. A missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("tokenfile: removing %s: %w", path, err)
}
