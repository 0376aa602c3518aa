package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type fileEnvelope struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileDriver is a persistent cache backend storing one file per key under a
// directory. Keys are hashed into file names, the original key travels in
// the envelope. Suited to the slow persistent level; survives process
// restarts.
type FileDriver struct {
	dir string
}

// NewFileDriver creates a driver rooted at dir, creating it if needed.
func NewFileDriver(dir string) (*FileDriver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileDriver{dir: dir}, nil
}

func (d *FileDriver) Name() string { return "file" }

func (d *FileDriver) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".cache")
}

func (d *FileDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Corrupt entry, treat as a miss and drop it.
		_ = os.Remove(d.path(key))
		return nil, false, nil
	}
	if !env.ExpiresAt.IsZero() && time.Now().After(env.ExpiresAt) {
		_ = os.Remove(d.path(key))
		return nil, false, nil
	}
	return env.Value, true, nil
}

func (d *FileDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := fileEnvelope{Key: key, Value: value}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return os.WriteFile(d.path(key), data, 0o644)
}

func (d *FileDriver) Delete(ctx context.Context, key string) error {
	err := os.Remove(d.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d *FileDriver) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".cache" {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (d *FileDriver) Available(ctx context.Context) bool {
	info, err := os.Stat(d.dir)
	return err == nil && info.IsDir()
}
