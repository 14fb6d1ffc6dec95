package agent

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/moltbot/relay/internal/model"
)

// SessionKey derives the stable conversational thread identifier the agent
// runtime keys its own session storage by. It is a pure function of its
// inputs. The dashboard channel has one implicit session per tenant.
func SessionKey(tenantID, channel, conversationID string) string {
	if channel == model.ChannelDashboard {
		return tenantID
	}
	return fmt.Sprintf("%s-%s-%s", tenantID, channel, conversationID)
}

// sessionLocks serializes invocations per session key. The runtime's own
// session storage is not known to be safe under concurrent writers, so the
// relay never runs two invocations for the same conversation at once.
type sessionLocks struct {
	shards [64]sync.Mutex
}

func (l *sessionLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l.shards[h.Sum32()%uint32(len(l.shards))]
	m.Lock()
	return m
}
