package video

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Submit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var job Job
		require.NoError(t, json.NewDecoder(r.Body).Decode(&job))
		assert.Equal(t, "s1", job.StoryID)
		assert.Equal(t, "short", job.Format)
		w.Write([]byte(`{"id":"job-9"}`))
	}))
	defer server.Close()

	id, err := NewClient(server.URL, "key").Submit(context.Background(), Job{StoryID: "s1", Script: "x"})
	require.NoError(t, err)
	assert.Equal(t, "job-9", id)
}

func TestClient_SubmitStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Submit(context.Background(), Job{StoryID: "s1"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusPaymentRequired, se.HTTPStatus())
}
