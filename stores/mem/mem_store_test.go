package mem_test

import (
	"testing"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/internal/storetest"
	"github.com/thinkrank/eventcore/stores/mem"
)

func TestStore_Compliance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) eventcore.EventStore {
		t.Helper()
		return mem.New()
	})
}
