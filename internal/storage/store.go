package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom/internal/cache"
	"github.com/KaramelBytes/dataloom/internal/frame"
)

// Cache lookup results reported to a CacheObserver.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// CacheObserver receives one call per cache lookup.
type CacheObserver func(result string)

// Store loads and saves typed frames through the storage service, keeping a
// copy of each dataset in a cache.
type Store struct {
	*Client
	cache   cache.Cache
	observe CacheObserver
}

// NewStore wraps client. A nil cache disables caching.
func NewStore(client *Client, c cache.Cache, observe CacheObserver) *Store {
	if c == nil {
		c = cache.Nop{}
	}
	if observe == nil {
		observe = func(string) {}
	}
	return &Store{Client: client, cache: c, observe: observe}
}

// Load returns the dataset stored under csvID with its recorded dtypes applied.
func (s *Store) Load(ctx context.Context, csvID string) (*frame.Frame, error) {
	ds, err := s.dataset(ctx, csvID)
	if err != nil {
		return nil, err
	}
	f, err := frame.ReadCSVBytes(ds.CSV)
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", csvID, err)
	}
	if err := f.ApplyDTypes(ds.DTypes); err != nil {
		return nil, fmt.Errorf("apply dtypes to %s: %w", csvID, err)
	}
	return f, nil
}

func (s *Store) dataset(ctx context.Context, csvID string) (*Dataset, error) {
	raw, ok, err := s.cache.Get(ctx, csvID)
	switch {
	case err != nil:
		s.observe(CacheError)
		s.logger.Warn("dataset cache read failed", zap.String("csv_id", csvID), zap.Error(err))
	case ok:
		var ds Dataset
		if err := json.Unmarshal(raw, &ds); err == nil {
			s.observe(CacheHit)
			return &ds, nil
		}
		s.observe(CacheError)
		_ = s.cache.Delete(ctx, csvID)
	default:
		s.observe(CacheMiss)
	}
	ds, err := s.GetCSV(ctx, csvID)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, csvID, ds)
	return ds, nil
}

// Save writes f back under csvID and returns the stored file name.
func (s *Store) Save(ctx context.Context, csvID string, f *frame.Frame) (string, error) {
	csv, err := f.CSVBytes()
	if err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}
	ds := &Dataset{CSV: csv, DTypes: f.DTypes()}
	name, err := s.UpdateCSV(ctx, f.Meta("", "", csvID, len(csv)), ds.CSV, ds.DTypes)
	if err != nil {
		_ = s.cache.Delete(ctx, csvID)
		return "", err
	}
	s.remember(ctx, csvID, ds)
	return name, nil
}

// Upload stores a new dataset. raw is the file as uploaded; f is its parse.
func (s *Store) Upload(ctx context.Context, meta frame.Meta, raw []byte, f *frame.Frame) error {
	ds := &Dataset{CSV: raw, DTypes: f.DTypes()}
	if err := s.UploadCSV(ctx, meta, ds.CSV, ds.DTypes); err != nil {
		return err
	}
	s.remember(ctx, meta.CSVID, ds)
	return nil
}

func (s *Store) remember(ctx context.Context, csvID string, ds *Dataset) {
	raw, err := json.Marshal(ds)
	if err == nil {
		err = s.cache.Set(ctx, csvID, raw)
	}
	if err != nil {
		s.logger.Warn("dataset cache write failed", zap.String("csv_id", csvID), zap.Error(err))
	}
}
