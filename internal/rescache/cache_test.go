package rescache

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
)

type fakeClient struct {
	id     int
	closed atomic.Bool
}

func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return nil
}

type countingOpener struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (o *countingOpener) open(ctx context.Context, p dao.ConnectionParams) (*fakeClient, error) {
	n := o.calls.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.err != nil {
		return nil, o.err
	}
	return &fakeClient{id: int(n)}, nil
}

func params(name string) dao.ConnectionParams {
	return dao.ConnectionParams{Name: name, Type: dao.Postgres, Host: "db", Port: 5432, Username: "app", Database: name}
}

func TestClient_ReusesByFingerprint(t *testing.T) {
	c := New(Options{})
	defer c.Close()
	op := &countingOpener{}

	a, err := Client(context.Background(), c, params("main"), op.open)
	require.NoError(t, err)
	// A logically equal value is a cache hit.
	b, err := Client(context.Background(), c, params("main"), op.open)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), op.calls.Load())

	other, err := Client(context.Background(), c, params("other"), op.open)
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, int32(2), op.calls.Load())
}

func TestClient_ConcurrentMissOpensOnce(t *testing.T) {
	c := New(Options{})
	defer c.Close()
	op := &countingOpener{delay: 50 * time.Millisecond}

	var wg sync.WaitGroup
	results := make([]*fakeClient, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cl, err := Client(context.Background(), c, params("main"), op.open)
			assert.NoError(t, err)
			results[i] = cl
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), op.calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestClient_OpenErrorIsConnectivity(t *testing.T) {
	c := New(Options{})
	defer c.Close()
	op := &countingOpener{err: errors.New("connection refused")}

	_, err := Client(context.Background(), c, params("main"), op.open)
	require.Error(t, err)
	assert.True(t, dao.IsKind(err, dao.KindConnectivity))

	clients, _ := c.Stats()
	assert.Zero(t, clients, "failed opens are not cached")
}

func TestClient_LRUClosesEvicted(t *testing.T) {
	c := New(Options{MaxConnections: 1})
	defer c.Close()
	op := &countingOpener{}

	first, err := Client(context.Background(), c, params("a"), op.open)
	require.NoError(t, err)
	_, err = Client(context.Background(), c, params("b"), op.open)
	require.NoError(t, err)

	assert.Eventually(t, first.closed.Load, time.Second, 10*time.Millisecond)
}

func TestFail_EvictsOnConnectivityOnly(t *testing.T) {
	var disconnected []string
	var mu sync.Mutex
	c := New(Options{OnDisconnect: func(name string, err error) {
		mu.Lock()
		disconnected = append(disconnected, name)
		mu.Unlock()
	}})
	defer c.Close()
	op := &countingOpener{}
	p := params("main")

	first, err := Client(context.Background(), c, p, op.open)
	require.NoError(t, err)

	validation := dao.Validationf("bad column")
	assert.Same(t, validation, c.Fail(p, validation))
	again, err := Client(context.Background(), c, p, op.open)
	require.NoError(t, err)
	assert.Same(t, first, again, "validation errors keep the client")

	c.Fail(p, dao.Connectivity("query", errors.New("broken pipe")))
	assert.Eventually(t, first.closed.Load, time.Second, 10*time.Millisecond)

	fresh, err := Client(context.Background(), c, p, op.open)
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, int32(2), op.calls.Load())

	mu.Lock()
	assert.Equal(t, []string{"main"}, disconnected)
	mu.Unlock()
}

func TestMetadata_CachesAndInvalidates(t *testing.T) {
	c := New(Options{})
	defer c.Close()
	p := params("main")
	var loads atomic.Int32
	load := func(context.Context) ([]dao.ColumnInfo, error) {
		loads.Add(1)
		return []dao.ColumnInfo{{ColumnName: "id", DataType: "integer"}}, nil
	}

	for i := 0; i < 3; i++ {
		cols, err := Metadata(context.Background(), c, p, "users", KindStructure, load)
		require.NoError(t, err)
		require.Len(t, cols, 1)
	}
	assert.Equal(t, int32(1), loads.Load())

	c.InvalidateTable(p, "users")
	_, err := Metadata(context.Background(), c, p, "users", KindStructure, load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())

	op := &countingOpener{}
	client, err := Client(context.Background(), c, p, op.open)
	require.NoError(t, err)

	c.Invalidate(p)
	_, err = Metadata(context.Background(), c, p, "users", KindStructure, load)
	require.NoError(t, err)
	assert.Equal(t, int32(3), loads.Load())
	assert.Eventually(t, client.closed.Load, time.Second, 10*time.Millisecond)
}

func TestMetadata_ErrorsAreNotCached(t *testing.T) {
	c := New(Options{})
	defer c.Close()
	p := params("main")
	fail := true
	load := func(context.Context) ([]dao.PrimaryKeyInfo, error) {
		if fail {
			return nil, errors.New("timeout")
		}
		return []dao.PrimaryKeyInfo{{ColumnName: "id"}}, nil
	}

	_, err := Metadata(context.Background(), c, p, "users", KindPrimaryKeys, load)
	require.Error(t, err)

	fail = false
	pks, err := Metadata(context.Background(), c, p, "users", KindPrimaryKeys, load)
	require.NoError(t, err)
	assert.Len(t, pks, 1)
}

func TestMetadata_Expires(t *testing.T) {
	c := New(Options{MetadataTTL: 30 * time.Millisecond})
	defer c.Close()
	p := params("main")
	var loads atomic.Int32
	load := func(context.Context) (bool, error) {
		loads.Add(1)
		return true, nil
	}

	_, err := Metadata(context.Background(), c, p, "v", "is_view", load)
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	_, err = Metadata(context.Background(), c, p, "v", "is_view", load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

func TestClient_TunnelFailureSkipsOpener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	c := New(Options{})
	defer c.Close()
	op := &countingOpener{}
	p := params("main")
	p.SSH = dao.SSHConfig{Enabled: true, Host: "127.0.0.1", Port: port, Username: "tunnel", Password: "pw"}

	_, err = Client(context.Background(), c, p, op.open)
	require.Error(t, err)
	assert.True(t, dao.IsKind(err, dao.KindConnectivity))
	assert.Zero(t, op.calls.Load())
}
