package panelkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubertat/panelkit/basis"
)

func TestPublishDiscoveredReplacesPending(t *testing.T) {
	pk := testPanelKit(t, &fakeAPI{})

	pk.publishDiscovered(discoveredBoards("SB100"))
	pk.publishDiscovered(discoveredBoards("SB200", "SB300"))

	select {
	case boards := <-pk.boardsCh:
		require.Len(t, boards, 2)
		assert.Equal(t, "SB200", boards[0].Serial)
	default:
		t.Fatal("no discovery result published")
	}

	select {
	case <-pk.boardsCh:
		t.Fatal("stale discovery result left behind")
	default:
	}
}

func TestLogNewcomersTracksKnownSerials(t *testing.T) {
	pk := testPanelKit(t, &fakeAPI{})

	pk.logNewcomers(discoveredBoards("SB100", "SB200"))
	pk.logNewcomers(discoveredBoards("SB100", "SB200"))

	assert.True(t, pk.known["SB100"])
	assert.True(t, pk.known["SB200"])
	assert.Len(t, pk.known, 2)
}

func TestRunDiscoveryPublishesImmediately(t *testing.T) {
	api := &fakeAPI{
		discoverFn: func() ([]basis.DiscoveredBoard, error) {
			return discoveredBoards("SB100"), nil
		},
	}
	pk := testPanelKit(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pk.runDiscovery(ctx)
		close(done)
	}()

	select {
	case boards := <-pk.boardsCh:
		require.Len(t, boards, 1)
		assert.Equal(t, "SB100", boards[0].Serial)
	case <-time.After(2 * time.Second):
		t.Fatal("discovery result never published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("discovery loop did not stop on context cancel")
	}
}
