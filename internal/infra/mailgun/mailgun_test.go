package mailgun

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, "test-key", "mail.example.com")
}

func TestSend(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mail.example.com/messages", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "test-key", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "jane@example.com", r.PostForm.Get("to"))
		assert.Equal(t, "bot@example.com", r.PostForm.Get("from"))
		assert.Equal(t, "Hello", r.PostForm.Get("subject"))
		assert.Equal(t, "<html></html>", r.PostForm.Get("html"))
	})

	err := client.Send(context.Background(), "jane@example.com", "bot@example.com", "Hello", "<html></html>")
	require.NoError(t, err)
}

func TestListInfoMissing(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.ListInfo(context.Background(), "abc123@mail.example.com")
	require.Error(t, err)
	assert.Equal(t, 404, domain.UpstreamStatus(err))
}

func TestCreateList(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/lists", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abc123@mail.example.com", r.PostForm.Get("address"))
	})

	require.NoError(t, client.CreateList(context.Background(), "abc123@mail.example.com"))
}

func TestAddListMember(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/lists/abc123@mail.example.com/members", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "jane@example.com", r.PostForm.Get("address"))
		assert.Equal(t, "yes", r.PostForm.Get("subscribed"))
	})

	require.NoError(t, client.AddListMember(context.Background(), "abc123@mail.example.com", "jane@example.com"))
}

func TestAddListMemberExisting(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := client.AddListMember(context.Background(), "abc123@mail.example.com", "jane@example.com")
	require.Error(t, err)
	assert.Equal(t, 400, domain.UpstreamStatus(err))
}

func TestDomain(t *testing.T) {
	client := New("", "key", "mail.example.com")
	assert.Equal(t, "mail.example.com", client.Domain())
}
