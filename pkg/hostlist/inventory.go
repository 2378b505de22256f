package hostlist

import (
	"fmt"
	"io"

	"github.com/andrej220/gsh/pkg/config"
)

// groupDoc is the inventory document shape: {_id: <group>, hosts: [...]}.
type groupDoc struct {
	Hosts []string `bson:"hosts" json:"hosts"`
}

// FromInventory looks a host group up in the shared Mongo inventory and
// returns its members.
func FromInventory(cfg config.InventoryConfig, group string) ([]string, error) {
	store, err := config.NewStore(config.MongoStore, &config.MongoConfig{
		URI:      cfg.URI,
		DBName:   cfg.Database,
		CollName: cfg.Collection,
		ID:       group,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	var doc groupDoc
	if err := store.Load(&doc); err != nil {
		return nil, fmt.Errorf("inventory group %q: %w", group, err)
	}
	return doc.Hosts, nil
}
