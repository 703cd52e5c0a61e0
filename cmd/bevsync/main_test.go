package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bevsync/internal/auth"
	"bevsync/internal/config"
	"bevsync/internal/database"
	"bevsync/internal/identity"
	"bevsync/internal/pipeline"
	"bevsync/internal/registry"
	"bevsync/internal/state"
	"bevsync/internal/tracker"
	"bevsync/internal/ws"
)

func testHandler() *ws.Handler {
	reg := registry.New(auth.NewTokenStore(nil), nil, nil, zerolog.Nop())
	engine := pipeline.NewEngine(reg, identity.NewManager(identity.DefaultConfig()), state.New(state.DefaultOptions()),
		pipeline.NewEventBus(), nil, pipeline.EngineConfig{Tracker: tracker.DefaultConfig()}, zerolog.Nop())
	return ws.NewHandler(engine, ws.NewHub("viewers", zerolog.Nop()), ws.NewHub("control", zerolog.Nop()), zerolog.Nop())
}

func signedToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Username: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestMuxRequiresJWTWhenConfigured(t *testing.T) {
	mux := newMux(testHandler(), auth.NewJWTValidator("s3cret"), zerolog.Nop())
	valid := signedToken(t, "s3cret", time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"viewer without token", "/ws", "", http.StatusUnauthorized},
		{"control without token", "/ui", "", http.StatusUnauthorized},
		{"viewer with bad token", "/ws", "Bearer nope", http.StatusUnauthorized},
		{"viewer with expired token", "/ws", "Bearer " + signedToken(t, "s3cret", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		// a valid token reaches the upgrader, which rejects a plain GET
		{"viewer with token", "/ws", "Bearer " + valid, http.StatusBadRequest},
		{"viewer with query token", "/ws?token=" + valid, "", http.StatusBadRequest},
		// ingest uses per-camera tokens, not JWT
		{"ingest", "/ingest/0", "", http.StatusBadRequest},
		{"unknown route", "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMuxOpenWithoutJWT(t *testing.T) {
	mux := newMux(testHandler(), nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reaches the upgrader")
}

func TestLoadInstallOverlaysStore(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "install.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	require.NoError(t, db.SaveCamera(&database.CameraRecord{ID: 1, Name: "Dock", BevX: 5, BevY: 6, Theta: 90}))
	require.NoError(t, db.SaveCamera(&database.CameraRecord{ID: 4, Name: "Gate", BevX: 7, BevY: 8}))
	require.NoError(t, db.SaveToken(&database.TokenRecord{CameraID: 4, Token: "gate-token"}))

	tokens := auth.NewTokenStore(map[int]string{0: "dev-token-cam0"})
	defaults := registry.BuiltinDefaults()
	require.NoError(t, loadInstall(db, tokens, defaults))

	assert.Equal(t, "Camera 0", defaults[0].Name)
	assert.Equal(t, "Dock", defaults[1].Name)
	assert.Nil(t, defaults[1].H)
	assert.Equal(t, 7.0, defaults[4].BevX)
	assert.True(t, tokens.Verify(4, "gate-token"))
	assert.True(t, tokens.Verify(0, "dev-token-cam0"))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	log := newLogger(cfg, &buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"service":"bevsync"`)
}
