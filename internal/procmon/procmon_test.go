package procmon

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	vms, read, write []uint64
	i                int
	err              error
}

func (f *fakeProc) MemoryInfoWithContext(context.Context) (*process.MemoryInfoStat, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &process.MemoryInfoStat{VMS: f.vms[f.i]}, nil
}

func (f *fakeProc) IOCountersWithContext(context.Context) (*process.IOCountersStat, error) {
	s := &process.IOCountersStat{ReadBytes: f.read[f.i], WriteBytes: f.write[f.i]}
	if f.i < len(f.vms)-1 {
		f.i++
	}
	return s, nil
}

func TestDiff(t *testing.T) {
	at := time.Unix(100, 0)
	d := Diff(
		Sample{VMS: 1000, ReadBytes: 10, WriteBytes: 50},
		Sample{At: at, VMS: 800, ReadBytes: 30, WriteBytes: 20},
	)
	assert.Equal(t, Delta{At: at, VMS: -200, ReadBytes: 20, WriteBytes: 20}, d)
}

func TestRun(t *testing.T) {
	fp := &fakeProc{
		vms:   []uint64{100, 150, 150},
		read:  []uint64{0, 10, 40},
		write: []uint64{5, 5, 6},
	}
	m := &Monitor{pid: 1, proc: fp, interval: time.Millisecond, now: time.Now}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []Delta
	err := m.Run(ctx, func(d Delta) {
		if len(got) < 2 {
			got = append(got, d)
		}
		if len(got) == 2 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
	assert.Equal(t, int64(50), got[0].VMS)
	assert.Equal(t, uint64(10), got[0].ReadBytes)
	assert.Equal(t, uint64(0), got[0].WriteBytes)
	assert.Equal(t, int64(0), got[1].VMS)
	assert.Equal(t, uint64(30), got[1].ReadBytes)
	assert.Equal(t, uint64(1), got[1].WriteBytes)
}

func TestRunSampleError(t *testing.T) {
	boom := errors.New("gone")
	m := &Monitor{pid: 1, proc: &fakeProc{err: boom}, interval: time.Millisecond, now: time.Now}
	err := m.Run(context.Background(), func(Delta) {})
	assert.ErrorIs(t, err, boom)
}

func TestFindProcessSelf(t *testing.T) {
	ctx := context.Background()
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	require.NoError(t, err)
	name, err := self.NameWithContext(ctx)
	require.NoError(t, err)

	p, err := FindProcess(ctx, name)
	require.NoError(t, err)
	got, err := p.NameWithContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, name)
	assert.GreaterOrEqual(t, p.Pid, self.Pid)

	m := New(p, time.Second)
	assert.Equal(t, p.Pid, m.PID())
	_, err = m.Sample(ctx)
	assert.NoError(t, err)
}

func TestFindProcessMissing(t *testing.T) {
	_, err := FindProcess(context.Background(), "no-such-process-portsample-test")
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestListeningPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	ctx := context.Background()
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	require.NoError(t, err)
	ports, err := ListeningPorts(ctx, self)
	if err != nil {
		t.Skipf("connections unavailable: %v", err)
	}
	assert.Contains(t, ports, port)
}
