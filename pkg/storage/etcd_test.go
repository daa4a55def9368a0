package storage

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/server/v3/embed"
)

// startTestEtcd runs a single-member embedded etcd for the test
func startTestEtcd(t *testing.T) []string {
	t.Helper()

	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()

	clientURL, _ := url.Parse("http://127.0.0.1:0")
	peerURL, _ := url.Parse("http://127.0.0.1:0")
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.LogLevel = "error"
	cfg.Logger = "zap"

	e, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		t.Fatal("etcd server took too long to start")
	}

	return []string{e.Clients[0].Addr().String()}
}

func TestEtcdStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded etcd in short mode")
	}
	endpoints := startTestEtcd(t)

	n := 0
	runStoreSuite(t, func(t *testing.T) Store {
		// each subtest gets its own key namespace on the shared server
		n++
		s, err := NewEtcdStore(endpoints, fmt.Sprintf("/warden-test/%d/", n), 5*time.Second)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
