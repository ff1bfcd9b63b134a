package main

import (
	"errors"
	"testing"

	"serotonyl.ru/staking/internal/config"
)

func TestCheckStorage(t *testing.T) {
	if err := checkStorage(&config.Config{StorageDriver: config.StorageMemory}); !errors.Is(err, errMemoryStorage) {
		t.Fatalf("memory driver must be rejected, got %v", err)
	}
	if err := checkStorage(&config.Config{StorageDriver: config.StoragePostgres}); err != nil {
		t.Fatalf("postgres driver: %v", err)
	}
}
