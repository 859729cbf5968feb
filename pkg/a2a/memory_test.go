package a2a_test

import (
	"testing"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/a2a/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) a2a.Store { return a2a.NewMemoryStore() })
}

func TestMemoryConversationStore(t *testing.T) {
	storetest.RunConversations(t, func(t *testing.T) a2a.ConversationStore { return a2a.NewMemoryStore() })
}
