package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

func TestResolveSecret(t *testing.T) {
	t.Setenv("LK_TEST_TOKEN", "hunter2")
	assert.Equal(t, "hunter2", resolveSecret("env:LK_TEST_TOKEN"))
	assert.Equal(t, "literal-value", resolveSecret("literal-value"))
	assert.Equal(t, "", resolveSecret("env:LK_TEST_UNSET"))
}

func TestConsoleSend(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole("term")
	c.out = &buf

	err := c.Send(context.Background(), "Lightkeeper: web", "disk almost full", types.SeverityHigh)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "ALERT: Lightkeeper: web")
	assert.Contains(t, out, "Severity: high")
	assert.Contains(t, out, "disk almost full")
}

func TestPushoverSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = map[string]string{}
		for k := range r.Form {
			got[k] = r.Form.Get(k)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("LK_PUSHOVER_TOKEN", "app-token")
	p, err := NewPushover("push", PushoverOptions{
		UserKey:  "user-key",
		APIToken: "env:LK_PUSHOVER_TOKEN",
	}, zerolog.Nop())
	require.NoError(t, err)
	p.apiURL = srv.URL

	err = p.Send(context.Background(), "Lightkeeper: web", "disk almost full", types.SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, "app-token", got["token"])
	assert.Equal(t, "user-key", got["user"])
	assert.Equal(t, "1", got["priority"])
	assert.Empty(t, got["retry"], "retry only applies to emergency priority")
}

func TestPushoverCriticalParams(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
	}))
	defer srv.Close()

	p, err := NewPushover("push", PushoverOptions{UserKey: "u", APIToken: "t"}, zerolog.Nop())
	require.NoError(t, err)
	p.apiURL = srv.URL

	require.NoError(t, p.Send(context.Background(), "t", "m", types.SeverityCritical))
	assert.Equal(t, "2", form["priority"])
	assert.Equal(t, "30", form["retry"])
	assert.Equal(t, "3600", form["expire"])
}

func TestPushoverRetriesOnce(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	p, err := NewPushover("push", PushoverOptions{UserKey: "u", APIToken: "t"}, zerolog.Nop())
	require.NoError(t, err)
	p.apiURL = srv.URL

	require.NoError(t, p.Send(context.Background(), "t", "m", types.SeverityLow))
	assert.Equal(t, 2, attempts)
}

func TestPushoverMissingCredentials(t *testing.T) {
	_, err := NewPushover("push", PushoverOptions{UserKey: "u"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewPushover("push", PushoverOptions{UserKey: "u", APIToken: "env:LK_UNSET_VAR"}, zerolog.Nop())
	assert.Error(t, err, "an env reference resolving empty is still missing")
}

func TestWebhookSend(t *testing.T) {
	var (
		gotMethod string
		gotAuth   string
		payload   webhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	t.Setenv("LK_HOOK_TOKEN", "secret")
	n, err := NewWebhook("hook", WebhookOptions{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "env:LK_HOOK_TOKEN"},
	}, zerolog.Nop())
	require.NoError(t, err)

	err = n.Send(context.Background(), "Lightkeeper: db", "replication stalled", types.SeverityCritical)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "secret", gotAuth)
	assert.Equal(t, "Lightkeeper: db", payload.Title)
	assert.Equal(t, "critical", payload.Severity)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	n, err := NewWebhook("hook", WebhookOptions{URL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	err = n.Send(context.Background(), "t", "m", types.SeverityLow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestWebhookValidation(t *testing.T) {
	_, err := NewWebhook("hook", WebhookOptions{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewWebhook("hook", WebhookOptions{URL: "http://x", Method: "DELETE"}, zerolog.Nop())
	assert.Error(t, err)
}
