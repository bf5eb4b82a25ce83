package destination

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestJSONLToStdout(t *testing.T) {
	var buf bytes.Buffer
	d := NewJSONL("j", "-", "01RUN", &buf)
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, d.Open())
	require.NoError(t, d.Report(sample(9, 10, 11)))
	require.NoError(t, d.Close())

	line := buf.String()
	assert.True(t, gjson.Valid(line))
	assert.Equal(t, "01RUN", gjson.Get(line, "run").String())
	assert.Equal(t, "2026-01-02T03:04:05Z", gjson.Get(line, "timestamp").String())
	assert.Equal(t, int64(61000), gjson.Get(line, "time").Int())
	assert.Equal(t, int64(9), gjson.Get(line, "iteration").Int())
	assert.Equal(t, int64(10), gjson.Get(line, "percentage").Int())
	assert.Equal(t, 12.5, gjson.Get(line, "results.Result").Float())
	assert.Equal(t, 11.0, gjson.Get(line, "results.Average").Float())
	assert.False(t, gjson.Get(line, "results.warmUp").Bool())
}

func TestJSONLAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.jsonl")
	for i := 0; i < 2; i++ {
		d := NewJSONL("j", path, "", nil)
		require.NoError(t, d.Open())
		require.NoError(t, d.Report(sample(int64(i), 0, float64(i))))
		require.NoError(t, d.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.False(t, gjson.Get(lines[0], "run").Exists())
	assert.Equal(t, int64(1), gjson.Get(lines[1], "iteration").Int())
}

func TestJSONLReportBeforeOpen(t *testing.T) {
	d := NewJSONL("j", "-", "", &bytes.Buffer{})
	assert.Error(t, d.Report(sample(0, 0, 1)))
}
