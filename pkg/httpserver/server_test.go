package httpserver_test

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsid.es/diana/pkg/httpserver"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return fmt.Sprint(l.Addr().(*net.TCPAddr).Port)
}

func TestServer(t *testing.T) {
	port := freePort(t)
	s := httpserver.New(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}),
		httpserver.Addr("127.0.0.1", port),
		httpserver.ShutdownTimeout(time.Second),
	)

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + port)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, s.Shutdown())
	err := <-s.Notify()
	assert.True(t, errors.Is(err, http.ErrServerClosed), "unexpected error %v", err)
}
