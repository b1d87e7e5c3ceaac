package memory_test

import (
	"testing"

	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/memory"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/persistencetest"
)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.Run(t, func(*testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}
