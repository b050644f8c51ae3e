package disposable

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeListFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(t *testing.T, index, wildcard []string) *Loader {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(index)
	})
	mux.HandleFunc("/wildcard.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wildcard)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	l := NewLoader("", "")
	l.indexURL = srv.URL + "/index.json"
	l.wildcardURL = srv.URL + "/wildcard.json"
	l.client = srv.Client()
	return l
}

func TestFetchMergesAndNormalizes(t *testing.T) {
	l := newTestLoader(t,
		[]string{"Mailinator.COM", "tempmail.org.", "mailinator.com"},
		[]string{"*.yopmail.com", "*.tempmail.org"})

	lists, err := l.Fetch()
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"mailinator.com", "tempmail.org", "yopmail.com"},
		lists.Disposable, "wildcards collapse to their base and duplicates are dropped")
	assert.Empty(t, lists.Allowed)
	assert.Empty(t, lists.Blacklisted)
}

func TestFetchReadsLocalLists(t *testing.T) {
	allowPath := writeListFile(t, "# trusted providers\ngmail.com\n\nOutlook.com\n")
	blackPath := writeListFile(t, "evil.com\n# comment\n")

	l := newTestLoader(t, []string{"mailinator.com"}, nil)
	l.allowFile = allowPath
	l.blackFile = blackPath

	lists, err := l.Fetch()
	require.NoError(t, err)
	assert.Equal(t, []string{"gmail.com", "outlook.com"}, lists.Allowed)
	assert.Equal(t, []string{"evil.com"}, lists.Blacklisted)
}

func TestFetchFailsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	l := NewLoader("", "")
	l.indexURL = srv.URL
	l.wildcardURL = srv.URL
	l.client = srv.Client()

	_, err := l.Fetch()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load index")
}

func TestReadListFileMissing(t *testing.T) {
	_, err := readListFile("/nonexistent/list.txt")
	assert.Error(t, err)

	domains, err := readListFile("")
	assert.NoError(t, err)
	assert.Nil(t, domains)
}
