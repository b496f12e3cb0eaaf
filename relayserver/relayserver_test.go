package relayserver

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/auratrade/aura-relay-server/model"
	"github.com/auratrade/aura-relay-server/notifier"

	"github.com/stretchr/testify/require"
)

// changeRecorder captures every observed change the notifier hands on.
type changeRecorder struct {
	mu      sync.Mutex
	changes []*model.ObservedChange
}

func (r *changeRecorder) HandleObservedChange(change *model.ObservedChange) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

func (r *changeRecorder) observed() []*model.ObservedChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.ObservedChange(nil), r.changes...)
}

func newChangeHookServer(sink notifier.ChangeSink) *RelayServer {
	login := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	svr := &RelayServer{
		authsha: sha256.Sum256([]byte("Basic " + login)),
	}
	svr.changeNotifier = notifier.NewChangeNotifier(sink)
	return svr
}

func postChangeHook(svr *RelayServer, user, pass, payload string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/changes", strings.NewReader(payload))
	if user != "" {
		r.SetBasicAuth(user, pass)
	}
	w := httptest.NewRecorder()
	svr.handleChangeHook(w, r)
	return w
}

func TestChangeHookIngestsTriggerPayload(t *testing.T) {
	sink := &changeRecorder{}
	svr := newChangeHookServer(sink)

	payload := `{"type":"UPDATE","table":"transactions",` +
		`"record":{"order_id":"order-1","tx_hash":"hash-1","status":"pending"}}`
	w := postChangeHook(svr, "admin", "secret", payload)
	require.Equal(t, http.StatusNoContent, w.Code)

	changes := sink.observed()
	require.Len(t, changes, 1)
	require.Equal(t, model.SourceTriggerChange, changes[0].Source)
	require.Equal(t, "hash-1", changes[0].TxHash)
	require.Equal(t, "order-1", changes[0].OrderID)
}

func TestChangeHookRejectsBadCredentials(t *testing.T) {
	sink := &changeRecorder{}
	svr := newChangeHookServer(sink)

	payload := `{"type":"UPDATE","table":"transactions",` +
		`"record":{"order_id":"order-1","tx_hash":"hash-1","status":"pending"}}`

	w := postChangeHook(svr, "admin", "wrong", payload)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postChangeHook(svr, "", "", payload)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	require.Empty(t, sink.observed())
}

func TestChangeHookMethodAndPayloadHandling(t *testing.T) {
	sink := &changeRecorder{}
	svr := newChangeHookServer(sink)

	// Only POST is served.
	r := httptest.NewRequest(http.MethodGet, "/changes", nil)
	w := httptest.NewRecorder()
	svr.handleChangeHook(w, r)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// Malformed payloads are acknowledged and dropped by the notifier.
	w2 := postChangeHook(svr, "admin", "secret", `{not json`)
	require.Equal(t, http.StatusNoContent, w2.Code)
	require.Empty(t, sink.observed())
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{
			name:   "empty list admits every origin",
			origin: "https://evil.example",
			want:   true,
		},
		{
			name:    "missing origin header is allowed",
			origin:  "",
			allowed: []string{"https://auratrade.fun"},
			want:    true,
		},
		{
			name:    "exact match",
			origin:  "https://auratrade.fun",
			allowed: []string{"https://auratrade.fun"},
			want:    true,
		},
		{
			name:    "match is case insensitive",
			origin:  "https://AuraTrade.fun",
			allowed: []string{"https://auratrade.fun"},
			want:    true,
		},
		{
			name:    "trailing slashes are ignored",
			origin:  "https://auratrade.fun/",
			allowed: []string{"https://auratrade.fun"},
			want:    true,
		},
		{
			name:    "second entry matches",
			origin:  "http://localhost:3000",
			allowed: []string{"https://auratrade.fun", "http://localhost:3000"},
			want:    true,
		},
		{
			name:    "unlisted origin is rejected",
			origin:  "https://evil.example",
			allowed: []string{"https://auratrade.fun"},
			want:    false,
		},
		{
			name:    "different scheme is rejected",
			origin:  "http://auratrade.fun",
			allowed: []string{"https://auratrade.fun"},
			want:    false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want,
				originAllowed(test.origin, test.allowed))
		})
	}
}
