package console

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-pds/orion/internal/accounts"
)

func TestDashboard(t *testing.T) {
	h := newHarness(t)
	h.pds.accounts = []accounts.Account{
		{DID: "did:plc:a", Handle: "a.test", Email: "a@test", IndexedAt: "2024-01-01T00:00:00Z"},
		{DID: "did:plc:b", Handle: accounts.Unknown, Email: accounts.Unknown, IndexedAt: accounts.Unknown},
	}

	w := h.do(http.MethodGet, "/dashboard/", h.token(t), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		IsServiceHealthy bool             `json:"is_service_healthy"`
		Accounts         []map[string]any `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.IsServiceHealthy)
	require.Len(t, body.Accounts, 2)
	assert.Equal(t, "did:plc:a", body.Accounts[0]["did"])
	assert.Equal(t, "unknown", body.Accounts[1]["handle"])
}

func TestDashboard_PDSDown(t *testing.T) {
	h := newHarness(t)
	h.pds.healthy = false

	w := h.do(http.MethodGet, "/dashboard/", h.token(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"is_service_healthy":false,"accounts":[]}`, w.Body.String())
}

func TestDashboard_RequiresSession(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/dashboard/", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/?next=%2Fdashboard%2F", w.Header().Get("Location"))
}
