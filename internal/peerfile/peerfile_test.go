package peerfile

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestParseGetLine(t *testing.T) {
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{"GET song a.mp3 HTTP/1.1\r\n", "song a.mp3", true},
		{"GET single.txt HTTP/1.1\r\n", "single.txt", true},
		{"POST a.mp3 HTTP/1.1\r\n", "", false},
		{"GET\r\n", "", false},
	}
	for _, c := range cases {
		got, err := parseGetLine(c.line)
		if c.ok {
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		} else {
			require.Error(t, err)
		}
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("x"), 5000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), content, 0o644))

	port := freePort(t)
	srv := NewServer(dir)
	go srv.ListenAndServe(port)
	t.Cleanup(func() { srv.Close() })
	time.Sleep(50 * time.Millisecond)

	var buf bytes.Buffer
	addr := (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}).String()
	err := Download(addr, "big.bin", int64(len(content)), &buf, NoopProgress)
	require.NoError(t, err)
	require.Equal(t, content, buf.Bytes())
}

func TestDownloadFilenameWithSpaces(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello world")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "song a.mp3"), content, 0o644))

	port := freePort(t)
	srv := NewServer(dir)
	go srv.ListenAndServe(port)
	t.Cleanup(func() { srv.Close() })
	time.Sleep(50 * time.Millisecond)

	var buf bytes.Buffer
	addr := (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}).String()
	err := Download(addr, "song a.mp3", int64(len(content)), &buf, NoopProgress)
	require.NoError(t, err)
	require.Equal(t, "hello world", buf.String())
}

func TestDownloadMissingFileIsShortTransfer(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	srv := NewServer(dir)
	go srv.ListenAndServe(port)
	t.Cleanup(func() { srv.Close() })
	time.Sleep(50 * time.Millisecond)

	var buf bytes.Buffer
	addr := (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}).String()
	err := Download(addr, "missing.bin", 100, &buf, NoopProgress)
	require.ErrorIs(t, err, ErrShortTransfer)
}
