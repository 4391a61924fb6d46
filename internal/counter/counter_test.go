package counter

import (
	"sync"
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portsample-ebpf/bpf"
)

func TestArrayIncrement(t *testing.T) {
	a := NewArray(3)

	assert.Equal(t, uint64(1), a.Increment(0))
	assert.Equal(t, uint64(2), a.Increment(0))
	assert.Equal(t, uint64(1), a.Increment(2))
	assert.Equal(t, []uint64{2, 0, 1}, a.Snapshot())
}

func TestArrayOutOfRangeKey(t *testing.T) {
	a := NewArray(1)

	assert.Equal(t, uint64(0), a.Increment(5))
	assert.Equal(t, uint64(0), a.Load(5))
	assert.Equal(t, 1, a.Len())
}

func TestArrayConcurrentIncrement(t *testing.T) {
	a := NewArray(1)
	const workers, perWorker = 8, 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				a.Increment(0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), a.Load(0))
}

func TestArraySatisfiesCounter(t *testing.T) {
	var c Counter = NewArray(1)
	assert.Equal(t, uint64(1), c.Increment(0))
}

func TestCountInstructions(t *testing.T) {
	insns := bpf.CountInstructions()
	require.NotEmpty(t, insns)

	last := insns[len(insns)-1]
	assert.Equal(t, asm.Exit, last.OpCode.JumpOp())

	var sawRef, sawLabel bool
	for _, ins := range insns {
		if ins.Reference() == bpf.CountMapName {
			sawRef = true
		}
		if ins.Symbol() == "exit" {
			sawLabel = true
		}
	}
	assert.True(t, sawRef, "map pointer must reference %s", bpf.CountMapName)
	assert.True(t, sawLabel, "null check must jump to the exit label")
}

func TestSpecStoreLayout(t *testing.T) {
	spec := bpf.LoadPortsample()

	m, ok := spec.Maps[bpf.StoreMapName]
	require.True(t, ok)
	assert.Equal(t, uint32(8), m.KeySize)
	assert.Equal(t, uint32(12), m.ValueSize)

	_, ok = spec.Programs[bpf.CountProgName]
	assert.True(t, ok)
}

func TestSyscallProbe(t *testing.T) {
	p, err := NewSyscallProbe("")
	if err != nil {
		t.Skipf("kprobe not available: %v", err)
	}
	defer p.Close()

	assert.Equal(t, DefaultSyscallSymbol, p.Symbol())
	_, err = p.Read()
	assert.NoError(t, err)
}
