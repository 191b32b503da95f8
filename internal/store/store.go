// Package store persists the proxy profile document. Every backend reads and
// writes the whole document at once.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"shroud/internal/config"
	"shroud/internal/proxy"
)

const documentKey = "proxy-profiles"

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (proxy.Store, error) {
	box, err := NewSecretBox(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return NewFile(cfg.Path, box), nil
	case "sqlite", "postgres":
		db, err := OpenSQL(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s, err := NewSQL(db, box)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("store: ping redis: %w", err)
		}
		return NewRedis(client, "", box), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func encode(box *SecretBox, doc proxy.Document) ([]byte, error) {
	sealed := doc.Clone()
	for i := range sealed.Profiles {
		pw, err := box.Seal(sealed.Profiles[i].Config.Password)
		if err != nil {
			return nil, fmt.Errorf("seal password of %s: %w", sealed.Profiles[i].ID, err)
		}
		sealed.Profiles[i].Config.Password = pw
	}
	if sealed.Profiles == nil {
		sealed.Profiles = []proxy.Profile{}
	}
	return json.MarshalIndent(sealed, "", "  ")
}

func decode(box *SecretBox, data []byte) (proxy.Document, error) {
	var doc proxy.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return proxy.Document{}, fmt.Errorf("decode profile document: %w", err)
	}
	for i := range doc.Profiles {
		pw, err := box.Open(doc.Profiles[i].Config.Password)
		if err != nil {
			return proxy.Document{}, fmt.Errorf("profile %s: %w", doc.Profiles[i].ID, err)
		}
		doc.Profiles[i].Config.Password = pw
	}
	return doc, nil
}
