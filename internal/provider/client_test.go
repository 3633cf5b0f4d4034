package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 2*time.Second, 100, 100, nil, zap.NewNop())
}

func TestListDomainsReturnsFirstDomain(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/domains", r.URL.Path)
		require.Equal(t, "TempEmailBot/1.0", r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"hydra:member": []map[string]string{{"domain": "x.example"}, {"domain": "y.example"}},
		})
	}))

	assert.Equal(t, "x.example", c.ListDomains(context.Background()))
}

func TestListDomainsFallsBackOnFailure(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	assert.Equal(t, FallbackDomain, c.ListDomains(context.Background()))
}

func TestListDomainsFallsBackOnEmptyList(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"hydra:member": []interface{}{}})
	}))

	assert.Equal(t, FallbackDomain, c.ListDomains(context.Background()))
}

func TestCreateAccountSuccess(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "abc@x.example", payload["address"])
		assert.Equal(t, "s3cret", payload["password"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "acct-1", "address": "abc@x.example"})
	}))

	account, err := c.CreateAccount(context.Background(), "abc@x.example", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", account.ID)
	assert.Equal(t, "abc@x.example", account.Address)
}

func TestCreateAccountNon2xxIsProvisionError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"address already used"}`))
	}))

	_, err := c.CreateAccount(context.Background(), "abc@x.example", "s3cret")
	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusUnprocessableEntity, perr.Status)
	assert.Contains(t, perr.Detail, "address already used")
}

func TestGetTokenSuccess(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "jwt-token"})
	}))

	token, err := c.GetToken(context.Background(), "abc@x.example", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
}

func TestGetTokenRejectionIsAuthError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := c.GetToken(context.Background(), "abc@x.example", "bad")
		assert.True(t, IsAuth(err), "status %d should map to AuthError", status)
	}
}

func TestGetTokenServerErrorIsTransportError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.GetToken(context.Background(), "abc@x.example", "s3cret")
	assert.True(t, IsTransport(err))
	assert.False(t, IsAuth(err))
}

func TestGetTokenEmptyTokenIsAuthError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))

	_, err := c.GetToken(context.Background(), "abc@x.example", "s3cret")
	assert.True(t, IsAuth(err))
}

func TestListMessagesSendsBearerToken(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"hydra:member": []map[string]interface{}{
				{"id": "m1", "subject": "hi", "from": map[string]string{"address": "alice@example.com"}},
			},
		})
	}))

	messages := c.ListMessages(context.Background(), "jwt-token")
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "alice@example.com", messages[0].From.Address)
}

func TestListMessagesFailureReturnsEmpty(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	assert.Empty(t, c.ListMessages(context.Background(), "jwt-token"))
}

func TestGetMessageDetail(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages/m1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "m1",
			"subject": "hi",
			"text":    "plain",
			"html":    []string{"<p>a</p>", "<p>b</p>"},
		})
	}))

	detail := c.GetMessage(context.Background(), "jwt-token", "m1")
	require.NotNil(t, detail)
	assert.Equal(t, "plain", detail.Text)
	assert.Equal(t, "<p>a</p><p>b</p>", detail.HTMLBody())
}

func TestGetMessageFailureReturnsNil(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.Nil(t, c.GetMessage(context.Background(), "jwt-token", "gone"))
}

func TestPing(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"hydra:member": []interface{}{}})
	}))
	assert.NoError(t, c.Ping(context.Background()))

	down := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.Error(t, down.Ping(context.Background()))
}
