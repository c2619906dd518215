package dirclient

import (
	"net"
	"testing"

	"p2p-filedir/internal/dirserver"
	"p2p-filedir/internal/rdt"
)

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// newTestPair starts a real dirserver and a dirclient Session pointed
// at it, on loopback, each with its own transport. The client listens on
// 60001 because the server always sends its replies to that port.
func newTestPair(t *testing.T) (*Session, int) {
	t.Helper()
	serverPort := freePort(t)
	clientPort := 60001

	serverTr, err := rdt.New("server0001")
	if err != nil {
		t.Fatalf("rdt.New server: %v", err)
	}
	if err := serverTr.StartListener(serverPort); err != nil {
		t.Fatalf("StartListener server: %v", err)
	}
	t.Cleanup(serverTr.Close)
	srv := dirserver.New(serverTr)
	go srv.Run()
	t.Cleanup(srv.Stop)

	clientTr, err := rdt.New("alpha1234")
	if err != nil {
		t.Fatalf("rdt.New client: %v", err)
	}
	if err := clientTr.StartListener(clientPort); err != nil {
		t.Fatalf("StartListener client: %v", err)
	}
	t.Cleanup(clientTr.Close)

	sess := NewSession(clientTr, "alpha1234", "127.0.0.1")
	return sess, serverPort
}

func TestIdentSetsConnected(t *testing.T) {
	sess, serverPort := newTestPair(t)
	if err := sess.Ident("127.0.0.1", serverPort); err != nil {
		t.Fatalf("Ident: %v", err)
	}
	if !sess.Connected() {
		t.Error("expected Connected() true after successful IDENT")
	}
}

func TestShareRequiresConnection(t *testing.T) {
	sess, _ := newTestPair(t)
	err := sess.Share([]SharedFile{{Name: "a.mp3", Size: 1}})
	if err != ErrNotConnected {
		t.Fatalf("Share() err = %v, want ErrNotConnected", err)
	}
}

func TestShareThenQueryRoundTrip(t *testing.T) {
	sessA, serverPort := newTestPair(t)
	if err := sessA.Ident("127.0.0.1", serverPort); err != nil {
		t.Fatalf("Ident A: %v", err)
	}
	if err := sessA.Share([]SharedFile{{Name: "song a.mp3", Size: 1000}}); err != nil {
		t.Fatalf("Share: %v", err)
	}

	results, err := sessA.Query("mp3", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	// sessA excludes its own files from its own query.
	if len(results) != 0 {
		t.Errorf("expected self-exclusion, got %+v", results)
	}
}

func TestRemoveRequiresConnection(t *testing.T) {
	sess, _ := newTestPair(t)
	if err := sess.Remove([]string{"a.mp3"}); err != ErrNotConnected {
		t.Fatalf("Remove() err = %v, want ErrNotConnected", err)
	}
}

func TestExitClearsConnected(t *testing.T) {
	sess, serverPort := newTestPair(t)
	if err := sess.Ident("127.0.0.1", serverPort); err != nil {
		t.Fatalf("Ident: %v", err)
	}
	if err := sess.Exit(); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if sess.Connected() {
		t.Error("expected Connected() false after EXIT")
	}
}

func TestSharedFilesAccumulate(t *testing.T) {
	sess, serverPort := newTestPair(t)
	if err := sess.Ident("127.0.0.1", serverPort); err != nil {
		t.Fatalf("Ident: %v", err)
	}
	if err := sess.Share([]SharedFile{{Name: "a.mp3", Size: 1}}); err != nil {
		t.Fatalf("Share: %v", err)
	}
	if err := sess.Share([]SharedFile{{Name: "b.mp3", Size: 2}}); err != nil {
		t.Fatalf("Share: %v", err)
	}
	if got := sess.SharedFiles(); len(got) != 2 {
		t.Fatalf("SharedFiles() = %+v, want 2 entries", got)
	}
}
