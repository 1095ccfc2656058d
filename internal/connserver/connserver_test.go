package connserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlift/internal/tlsutil"
)

func startServer(t *testing.T, tlsConf *tls.Config) (*Server, context.CancelFunc, chan error) {
	t.Helper()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	})
	srv := New("127.0.0.1:0", h, tlsConf)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	return srv, cancel, done
}

func waitServe(t *testing.T, cancel context.CancelFunc, done chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServePlain(t *testing.T) {
	srv, cancel, done := startServer(t, nil)
	defer waitServe(t, cancel, done)

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

func TestServeConcurrentRequests(t *testing.T) {
	srv, cancel, done := startServer(t, nil)
	defer waitServe(t, cancel, done)

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			resp, err := http.Get("http://" + srv.Addr().String() + "/")
			if err == nil {
				resp.Body.Close()
			}
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}
}

func TestServeTLS(t *testing.T) {
	conf, err := tlsutil.SelfSigned()
	require.NoError(t, err)
	srv, cancel, done := startServer(t, conf)
	defer waitServe(t, cancel, done)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

// A plain-HTTP client against a TLS listener gets its connection dropped
// with no HTTP response.
func TestServeTLSRejectsPlaintext(t *testing.T) {
	conf, err := tlsutil.SelfSigned()
	require.NoError(t, err)
	srv, cancel, done := startServer(t, conf)
	defer waitServe(t, cancel, done)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + srv.Addr().String() + "/")
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected plaintext request against TLS listener to fail")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, cancel, done := startServer(t, nil)

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()

	waitServe(t, cancel, done)

	// The port is released.
	_, err = http.Get("http://" + srv.Addr().String() + "/")
	assert.Error(t, err)
}
