package selfprof

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfiles(t *testing.T) {
	tests := []struct {
		in      string
		want    []Profile
		wantErr bool
	}{
		{"", DefaultProfiles(), false},
		{" , ", DefaultProfiles(), false},
		{"cpu", []Profile{ProfileCPU}, false},
		{"Heap, goroutine,heap", []Profile{ProfileHeap, ProfileGoroutine}, false},
		{"cpu,trace", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProfiles(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{Mode: "socket"}).Validate())
	assert.Error(t, (&Config{Mode: ModeFile}).Validate())
	assert.Error(t, (&Config{Mode: ModeHTTP}).Validate())
	assert.Error(t, (&Config{Mode: ModeFile, Dir: "x", Profiles: []Profile{"trace"}}).Validate())
	assert.True(t, DefaultConfig().Has(ProfileCPU))
	assert.False(t, DefaultConfig().Has(ProfileMutex))
}

func TestProfiler_FileMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prof")
	p, err := New(&Config{
		Mode:     ModeFile,
		Dir:      dir,
		Profiles: []Profile{ProfileCPU, ProfileHeap, ProfileMutex},
	}, nil)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	require.NoError(t, p.Start())
	assert.Error(t, p.Start())

	files, err := p.Stop(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "cpu_20240506_070809.pprof"), files[0])
	assert.Equal(t, filepath.Join(dir, "heap_20240506_070809.pprof"), files[1])
	assert.Equal(t, filepath.Join(dir, "mutex_20240506_070809.pprof"), files[2])

	for _, f := range files {
		data, err := os.Open(f)
		require.NoError(t, err)
		_, err = profile.Parse(data)
		data.Close()
		assert.NoError(t, err, f)
	}

	files, err = p.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, files)
}

func TestProfiler_HTTPMode(t *testing.T) {
	p, err := New(&Config{Mode: ModeHTTP, Addr: "127.0.0.1:0", Profiles: []Profile{ProfileHeap}}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	addr := p.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "goroutine"))

	files, err := p.Stop(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, p.Addr())
}
