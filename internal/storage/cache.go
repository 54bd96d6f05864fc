package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adamdenes/daytrader/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// FileCache keeps downloaded candles on disk as MessagePack, one file per
// symbol and interval.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

func (fc *FileCache) Path(symbol, interval string) string {
	return filepath.Join(fc.dir, fmt.Sprintf("%s-%s-candles.dat", strings.ToUpper(symbol), interval))
}

// Load returns the cached candles, or nil and no error when nothing is
// cached yet.
func (fc *FileCache) Load(symbol, interval string) ([]*models.Candle, error) {
	f, err := os.Open(fc.Path(symbol, interval))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var candles []*models.Candle
	if err := msgpack.NewDecoder(f).Decode(&candles); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", f.Name(), err)
	}
	return candles, nil
}

// Save replaces the cache file atomically.
func (fc *FileCache) Save(symbol, interval string, candles []*models.Candle) error {
	path := fc.Path(symbol, interval)
	tmp, err := os.CreateTemp(fc.dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := msgpack.NewEncoder(tmp).Encode(candles); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
