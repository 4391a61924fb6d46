package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portsample-ebpf/internal/config"
	"github.com/portsample-ebpf/internal/packettest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "portsample "+Version+"\n", out)
}

func TestValidatePrintsEffectiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portsample.yaml")
	require.NoError(t, os.WriteFile(path, []byte("portsample:\n  filter: {mode: single, port: 53}\n"), 0o644))
	t.Setenv("PORTSAMPLE_STORE_CAPACITY", "64")

	out, err := execute(t, "validate", "-c", path, "--port", "8053", "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: single")
	// flag and env values come back as strings
	assert.Regexp(t, `port: "?8053"?`, out)
	assert.Regexp(t, `capacity: "?64"?`, out)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	_, err := execute(t, "validate", "--filter-mode", "directional", "--src-port", "1")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "validate", "--log-level", "loud")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestMonitorRequiresProcess(t *testing.T) {
	_, err := execute(t, "monitor")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	pcap := filepath.Join(dir, "in.pcap")
	f, err := os.Create(pcap)
	require.NoError(t, err)
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, frame := range [][]byte{packettest.TCP(t, 1, 443, nil), packettest.UDP(t, 5, 6, nil)} {
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*1000),
			CaptureLength: len(frame),
			Length:        len(frame),
		}, frame))
	}
	require.NoError(t, f.Close())

	records := filepath.Join(dir, "packets")
	out, err := execute(t, "replay", pcap, "--filter-mode", "single", "--port", "443",
		"--records-file", "--records-path", records, "--log-level", "error")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "packets=2 samples=1 rejected=0 "), out)

	body, err := os.ReadFile(records)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(body), "\n"))
}

func TestReplayNeedsFile(t *testing.T) {
	_, err := execute(t, "replay")
	assert.Error(t, err)
}
