package collector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-collector/pkg/collector"
)

const testKey = "35200114200166000187550010000000046550000046"

const invoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<NFe xmlns="http://www.portalfiscal.inf.br/nfe">
  <infNFe Id="NFe` + testKey + `" versao="4.00">
    <ide><cUF>35</cUF><mod>55</mod><serie>1</serie><nNF>4</nNF><dhEmi>2026-03-12T10:30:00-03:00</dhEmi></ide>
    <emit><CNPJ>14200166000187</CNPJ><xNome>Mercado Bom Preco Ltda</xNome></emit>
    <total><ICMSTot><vProd>10.00</vProd><vNF>10.00</vNF></ICMSTot></total>
    <pag><detPag><tPag>01</tPag><vPag>10.00</vPag></detPag></pag>
  </infNFe>
</NFe>`

func testConfig(t *testing.T) *collector.Config {
	t.Helper()
	cfg := collector.DefaultConfig()
	cfg.Monitor.Watches = []collector.WatchConfig{{Dir: t.TempDir()}}
	cfg.Monitor.DebounceMs = 50
	cfg.Queue.DBPath = filepath.Join(t.TempDir(), "queue.db")
	return cfg
}

func TestCollector_EnqueueFileWithoutEndpoint(t *testing.T) {
	cfg := testConfig(t)
	c, err := collector.New(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "invoice.xml")
	require.NoError(t, os.WriteFile(path, []byte(invoiceXML), 0o644))

	outcome := c.EnqueueFile(context.Background(), path)
	assert.Equal(t, 1, outcome.Enqueued)
	assert.True(t, outcome.Clean())

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestCollector_StartDeliversWatchedFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accepted":   true,
			"access_key": body["access_key"],
		})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Transmit.Endpoint = srv.URL
	cfg.Transmit.Token = "tok"
	cfg.Transmit.MarketID = "m1"

	c, err := collector.New(cfg, collector.WithVersion("test"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Monitor.Watches[0].Dir, "sale.xml"),
		[]byte(invoiceXML), 0o644))

	require.Eventually(t, func() bool {
		stats, err := c.Stats(ctx)
		return err == nil && stats.Sent == 1
	}, 10*time.Second, 50*time.Millisecond)

	entries := c.Activity().Entries()
	require.NotEmpty(t, entries)
}

func TestCollector_InvalidConfigRejected(t *testing.T) {
	cfg := collector.DefaultConfig()
	cfg.Queue.DBPath = ""

	_, err := collector.New(cfg)
	require.Error(t, err)
}

func TestCollector_DoubleStartRejected(t *testing.T) {
	cfg := testConfig(t)
	c, err := collector.New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	assert.Error(t, c.Start(ctx))
}
