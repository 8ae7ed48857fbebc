package feed

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/chaos"
	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *Config {
	return &Config{
		RecordCount:   10,
		Symbols:       []string{"MSFT", "AAPL"},
		Seed:          7,
		ByteOrder:     "big",
		RequestFormat: "wide",
	}
}

// startServer runs a server on a loopback listener until the test ends
func startServer(t *testing.T, cfg *Config, ch *chaos.Chaos, m *observability.FeedMetrics) *Server {
	t.Helper()
	srv, err := NewServer(cfg, ch, m, zap.NewNop())
	require.NoError(t, err)

	ln, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NotNil(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestGenerateRecords_Deterministic(t *testing.T) {
	a := GenerateRecords(20, []string{"MSFT", "AAPL"}, 3)
	b := GenerateRecords(20, []string{"MSFT", "AAPL"}, 3)
	require.Len(t, a, 20)
	assert.Equal(t, a, b)

	for i, r := range a {
		assert.Equal(t, int32(i+1), r.Sequence)
		assert.True(t, r.Side.Valid())
		assert.Positive(t, r.Quantity)
		assert.Contains(t, []string{"MSFT", "AAPL"}, r.Symbol.String())
	}
	assert.Empty(t, GenerateRecords(0, []string{"MSFT"}, 1))
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	_, _, err := cfg.Validate()
	require.NoError(t, err)

	cfg.Symbols = nil
	_, _, err = cfg.Validate()
	assert.Error(t, err)

	cfg = testConfig()
	cfg.RequestFormat = "narrow"
	_, _, err = cfg.Validate()
	assert.Error(t, err)
}

func TestServer_ListenRecordsAddrBeforeServe(t *testing.T) {
	srv, err := NewServer(testConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, srv.Addr())

	ln, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	require.NotNil(t, srv.Addr())
	assert.Equal(t, ln.Addr().String(), srv.Addr().String())

	// The listener is already accepting into the backlog before Serve runs
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	conn.Close()

	_, err = srv.Listen("127.0.0.1:-1")
	assert.Error(t, err)
}

func TestServer_SubscribeStreamsAndCloses(t *testing.T) {
	cfg := testConfig()
	cfg.WriteChunk = 5
	srv := startServer(t, cfg, nil, nil)
	conn := dial(t, srv)

	_, err := conn.Write(codec.Default.SubscribeRequest())
	require.NoError(t, err)

	data, err := io.ReadAll(conn)
	require.NoError(t, err)

	records, consumed, trailing := codec.Default.Decode(data)
	assert.Equal(t, len(data), consumed)
	assert.Empty(t, trailing)
	assert.Equal(t, srv.Records(), records)
}

func TestServer_SubscribeWithDrops(t *testing.T) {
	ch := chaos.New(&chaos.Config{Enabled: true, DropSeqs: []int32{3, 7}}, zap.NewNop())
	m := observability.NewFeedMetrics(prometheus.NewRegistry())
	srv := startServer(t, testConfig(), ch, m)
	conn := dial(t, srv)

	_, err := conn.Write(codec.Default.SubscribeRequest())
	require.NoError(t, err)
	data, err := io.ReadAll(conn)
	require.NoError(t, err)

	records, _, _ := codec.Default.Decode(data)
	var seqs []int32
	for _, r := range records {
		seqs = append(seqs, r.Sequence)
	}
	assert.Equal(t, []int32{1, 2, 4, 5, 6, 8, 9, 10}, seqs)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsDropped))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.RecordsStreamed))
}

func TestServer_Retransmit(t *testing.T) {
	m := observability.NewFeedMetrics(prometheus.NewRegistry())
	srv := startServer(t, testConfig(), nil, m)
	conn := dial(t, srv)

	for _, seq := range []int32{3, 9} {
		req, err := codec.Default.RetransmitRequest(seq, codec.FormatWide)
		require.NoError(t, err)
		_, err = conn.Write(req)
		require.NoError(t, err)

		buf := make([]byte, codec.RecordSize)
		_, err = io.ReadFull(conn, buf)
		require.NoError(t, err)

		rec, err := codec.Default.DecodeRecord(buf)
		require.NoError(t, err)
		assert.Equal(t, srv.Records()[seq-1], rec)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetransmitsServed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("RETRANSMIT")))
}

func TestServer_RetransmitLegacyLittleEndian(t *testing.T) {
	cfg := testConfig()
	cfg.RequestFormat = "legacy"
	cfg.ByteOrder = "little"
	srv := startServer(t, cfg, nil, nil)
	conn := dial(t, srv)

	le := codec.Codec{Order: binary.LittleEndian}
	req, err := le.RetransmitRequest(4, codec.FormatLegacy)
	require.NoError(t, err)
	_, err = conn.Write(req)
	require.NoError(t, err)

	buf := make([]byte, codec.RecordSize)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	rec, err := le.DecodeRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(4), rec.Sequence)
}

func TestServer_UnknownRequestClosesConnection(t *testing.T) {
	m := observability.NewFeedMetrics(prometheus.NewRegistry())
	srv := startServer(t, testConfig(), nil, m)
	conn := dial(t, srv)

	_, err := conn.Write([]byte{9})
	require.NoError(t, err)

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnknownRequests))
}
