package records

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portsample-ebpf/internal/types"
)

func TestAppendCSV(t *testing.T) {
	tests := []struct {
		name string
		ev   types.Event
		want string
	}{
		{
			name: "ports only",
			ev:   types.Event{TimestampNs: 123, SrcPort: 40000, DstPort: 443, Length: 60},
			want: "123,60,,,40000,443,0",
		},
		{
			name: "addresses and direction",
			ev: types.Event{
				TimestampNs: 9, SrcPort: 2000, DstPort: 1000, Length: 1514,
				Direction: types.DirEgress, HasAddrs: true, SrcAddr: 0, DstAddr: 255,
			},
			want: "9,1514,0,255,2000,1000,2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(AppendCSV(nil, tt.ev)))
			assert.Equal(t, strings.Count(Header, ","), strings.Count(tt.want, ","))
		})
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestFileSinkTruncateAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records", "packets")
	ctx := context.Background()

	s, err := NewFileSink(FileConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []types.Event{
		{TimestampNs: 1, SrcPort: 1, DstPort: 443, Length: 60},
		{TimestampNs: 2, SrcPort: 2, DstPort: 443, Length: 61},
	}))
	require.NoError(t, s.Close())
	assert.Equal(t, []string{Header, "1,60,,,1,443,0", "2,61,,,2,443,0"}, readLines(t, path))

	s, err = NewFileSink(FileConfig{Path: path, Append: true})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []types.Event{{TimestampNs: 3, SrcPort: 3, DstPort: 443, Length: 62}}))
	require.NoError(t, s.Close())
	assert.Equal(t, []string{Header, "1,60,,,1,443,0", "2,61,,,2,443,0", "3,62,,,3,443,0"}, readLines(t, path))

	s, err = NewFileSink(FileConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{Header}, readLines(t, path))
}

func TestFileSinkRotatedFilesStartWithHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packets")
	s, err := NewFileSink(FileConfig{Path: path, MaxBackups: 10})
	require.NoError(t, err)
	// room for the header and two 15-byte lines
	s.maxBytes = int64(len(Header)+1) + 30

	var evs []types.Event
	for i := uint64(1); i <= 5; i++ {
		evs = append(evs, types.Event{TimestampNs: i, SrcPort: uint16(i), DstPort: 443, Length: 60})
	}
	require.NoError(t, s.Write(context.Background(), evs))
	require.NoError(t, s.Close())

	assert.Equal(t, []string{Header, "5,60,,,5,443,0"}, readLines(t, path))

	files, err := filepath.Glob(filepath.Join(dir, "packets*"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2, "expected rotated backups")
	for _, f := range files {
		lines := readLines(t, f)
		assert.Equal(t, Header, lines[0], f)
		assert.LessOrEqual(t, len(lines), 3, f)
	}
}

func TestFileSinkRequiresPath(t *testing.T) {
	_, err := NewFileSink(FileConfig{})
	assert.Error(t, err)
}

// captureHook records pipelines instead of sending them.
type captureHook struct {
	mu   sync.Mutex
	cmds [][]any
}

func (h *captureHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *captureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h *captureHook) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, c := range cmds {
			h.cmds = append(h.cmds, c.Args())
		}
		return nil
	}
}

func TestRedisSinkPipeline(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	hook := &captureHook{}
	client.AddHook(hook)

	s := newRedisSink(client, RedisConfig{TTL: time.Minute})
	require.NoError(t, s.Write(context.Background(), []types.Event{
		{TimestampNs: 10, SrcPort: 1, DstPort: 443, Length: 60},
		{TimestampNs: 11, SrcPort: 2, DstPort: 443, Length: 70},
	}))

	require.Len(t, hook.cmds, 2)
	assert.Equal(t, []any{"hset", DefaultRedisKey, "10", "10,60,,,1,443,0", "11", "11,70,,,2,443,0"}, hook.cmds[0])
	assert.Equal(t, "expire", hook.cmds[1][0])
	assert.Equal(t, DefaultRedisKey, hook.cmds[1][1])
}

func TestRedisSinkChunks(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	hook := &captureHook{}
	client.AddHook(hook)

	evs := make([]types.Event, redisChunk+1)
	for i := range evs {
		evs[i] = types.Event{TimestampNs: uint64(i + 1)}
	}
	s := newRedisSink(client, RedisConfig{Key: "k"})
	require.NoError(t, s.Write(context.Background(), evs))

	require.Len(t, hook.cmds, 2, "two HSETs and no EXPIRE without a TTL")
	assert.Len(t, hook.cmds[0], 2+2*redisChunk)
	assert.Len(t, hook.cmds[1], 2+2)

	require.NoError(t, s.Write(context.Background(), nil))
	assert.Len(t, hook.cmds, 2)
}
