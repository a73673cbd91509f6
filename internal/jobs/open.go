package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StoreConfig 记录存储配置
type StoreConfig struct {
	// Driver memory | file | firestore
	Driver              string `mapstructure:"driver"`
	Path                string `mapstructure:"path"`
	FirestoreProject    string `mapstructure:"firestore_project"`
	FirestoreCollection string `mapstructure:"firestore_collection"`
}

// DefaultStoreConfig 返回默认配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:              "file",
		Path:                ".translator-pipeline/jobs.json",
		FirestoreCollection: DefaultCollection,
	}
}

// OpenStore 根据配置创建记录存储，返回的 close 函数总是非空
func OpenStore(ctx context.Context, cfg StoreConfig, logger *zap.Logger) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "", "file":
		store, err := NewFileStore(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "firestore":
		store, err := NewFirestoreStore(ctx, cfg.FirestoreProject, cfg.FirestoreCollection)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported job store driver: %s", cfg.Driver)
	}
}
