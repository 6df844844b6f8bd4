package restyutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestDumpExchanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "dump")
	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	client := resty.New()
	DumpExchanges(client, output)

	_, err = client.R().SetBody(map[string]string{"url": "x"}).Post(srv.URL + "/api/fetch")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(dir, "0001-POST.txt"))
	require.NoError(t, err)
	require.Contains(t, string(contents), "POST "+srv.URL+"/api/fetch")
	require.Contains(t, string(contents), `{"url":"x"}`)
	require.Contains(t, string(contents), `{"status":"ok"}`)
}
