package castellan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestAPIServer(t testing.TB) (*httptest.Server, *http.Client, *Castellan) {
	t.Helper()
	db := setupTestDB(t)
	logger := testLogger(t)
	writeDB := NewDatabase(db, logger, false)
	registry := NewPanelRegistry(writeDB, logger)
	session := newMockSessionHandler()

	hash, err := HashPassword("test-password")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.DatabaseType = dbTypeSQLite
	cfg.API.Enabled = true
	cfg.API.AdminUsername = "admin"
	cfg.API.AdminPasswordHash = hash
	cfg.API.SessionMaxAge = time.Hour

	c := &Castellan{
		config:                cfg,
		db:                    db,
		writeDB:               writeDB,
		registry:              registry,
		logger:                logger,
		signalStop:            make(chan struct{}, 1),
		triggerPanelRefreshCh: make(chan bool, 1),
	}
	c.review = NewReviewWorkflow(
		writeDB, session, registry, nil,
		rate.NewLimiter(rate.Inf, 1), logger,
	)
	c.dbNotifier = &sqliteNotifier{
		logger:         logger,
		c:              c,
		sqliteNotifyID: "test-notifier",
	}

	api, err := newAPI(c, cfg.API)
	require.NoError(t, err)

	server := httptest.NewServer(api.engine)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return server, &http.Client{Jar: jar}, c
}

func apiLogin(
	t testing.TB,
	server *httptest.Server,
	client *http.Client,
	username string,
	password string,
) *http.Response {
	t.Helper()
	payload, err := json.Marshal(
		map[string]string{"username": username, "password": password},
	)
	require.NoError(t, err)
	resp, err := client.Post(
		server.URL+"/api/login", "application/json", bytes.NewReader(payload),
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}

func TestAPIRequiresLogin(t *testing.T) {
	server, client, _ := newTestAPIServer(t)

	resp, err := client.Get(server.URL + "/api/responses")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = apiLogin(t, server, client, "admin", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = apiLogin(t, server, client, "admin", "test-password")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(server.URL + "/api/responses")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIListPanels(t *testing.T) {
	server, client, c := newTestAPIServer(t)
	require.NoError(
		t, c.registry.Create(context.Background(), testPanel("guild-1", "staff")),
	)
	apiLogin(t, server, client, "admin", "test-password")

	resp, err := client.Get(server.URL + "/api/panels?guild_id=guild-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var panels []PanelDefinition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&panels))
	require.Len(t, panels, 1)
	assert.Equal(t, "staff", panels[0].Name)
}

func TestAPIDecision(t *testing.T) {
	ctx := context.Background()
	server, client, c := newTestAPIServer(t)
	panel := testPanel("guild-1", "staff")
	require.NoError(t, c.registry.Create(ctx, panel))

	response, err := c.review.RecordSubmission(
		ctx, panel, "user-1", "applicant",
		[]Answer{{Question: "Why?", Answer: "because"}},
	)
	require.NoError(t, err)
	apiLogin(t, server, client, "admin", "test-password")

	decide := func(accept bool) *http.Response {
		payload, marshalErr := json.Marshal(
			map[string]any{"accept": accept, "reason": "via api"},
		)
		require.NoError(t, marshalErr)
		resp, postErr := client.Post(
			fmt.Sprintf(
				"%s/api/responses/%s/decision", server.URL, response.ResponseID,
			),
			"application/json",
			bytes.NewReader(payload),
		)
		require.NoError(t, postErr)
		return resp
	}

	resp := decide(true)
	var decided ApplicationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decided))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ResponseStatusAccepted, decided.Status)
	assert.Equal(t, "admin:admin", decided.DecidedBy)

	// a second decision conflicts
	resp = decide(false)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// unknown response is a 404
	resp404, err := client.Post(
		server.URL+"/api/responses/ghost/decision",
		"application/json",
		bytes.NewReader([]byte(`{"accept":true}`)),
	)
	require.NoError(t, err)
	_ = resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}
