package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// statusReply is one scripted answer of the status endpoint
type statusReply struct {
	code int
	body map[string]interface{}
}

func ok(body map[string]interface{}) statusReply {
	return statusReply{code: http.StatusOK, body: body}
}

func failWith(code int, message string) statusReply {
	return statusReply{code: code, body: map[string]interface{}{"message": message}}
}

// fakeBackend plays the EarnSigma API and the object store
type fakeBackend struct {
	mu           sync.Mutex
	server       *httptest.Server
	uploadID     string
	statuses     map[string][]statusReply
	polls        map[string]int
	stored       map[string]string
	apiTokens    []string
	storageAuth  []string
	entitlements map[string]interface{}
	isAdmin      bool
}

func newFakeBackend(t *testing.T, uploadID string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		uploadID:     uploadID,
		statuses:     make(map[string][]statusReply),
		polls:        make(map[string]int),
		stored:       make(map[string]string),
		entitlements: map[string]interface{}{"plan": "plan_a", "status": "active"},
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/uploads/presign", b.handlePresign).Methods(http.MethodPost)
	r.HandleFunc("/storage/{key}", b.handleStorage).Methods(http.MethodPut)
	r.HandleFunc("/v1/uploads/callback", b.handleCallback).Methods(http.MethodPost)
	r.HandleFunc("/v1/uploads/{id}/status", b.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/entitlements", b.handleEntitlements).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/whoami", b.handleWhoAmI).Methods(http.MethodGet)

	b.server = httptest.NewServer(r)
	t.Cleanup(b.server.Close)
	return b
}

// script sets the status replies for an upload. The last reply repeats.
func (b *fakeBackend) script(uploadID string, replies ...statusReply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[uploadID] = replies
}

func (b *fakeBackend) pollCount(uploadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls[uploadID]
}

func (b *fakeBackend) recordToken(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apiTokens = append(b.apiTokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (b *fakeBackend) handlePresign(w http.ResponseWriter, r *http.Request) {
	b.recordToken(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uploadId":      b.uploadID,
		"object_key":    "raw/" + b.uploadID + ".csv",
		"presigned_url": b.server.URL + "/storage/" + b.uploadID,
		"headers":       map[string]string{"Content-Type": "text/csv"},
	})
}

func (b *fakeBackend) handleStorage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.stored[mux.Vars(r)["key"]] = string(body)
	b.storageAuth = append(b.storageAuth, r.Header.Get("Authorization"))
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *fakeBackend) handleCallback(w http.ResponseWriter, r *http.Request) {
	b.recordToken(r)
	var req map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"upload_id": req["upload_id"],
		"status":    "received",
	})
}

func (b *fakeBackend) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.recordToken(r)
	id := mux.Vars(r)["id"]

	b.mu.Lock()
	replies := b.statuses[id]
	n := b.polls[id]
	b.polls[id] = n + 1
	b.mu.Unlock()

	if len(replies) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"detail": "upload not found"})
		return
	}
	reply := replies[min(n, len(replies)-1)]
	writeJSON(w, reply.code, reply.body)
}

func (b *fakeBackend) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	b.recordToken(r)
	b.mu.Lock()
	body := b.entitlements
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (b *fakeBackend) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	b.recordToken(r)
	b.mu.Lock()
	isAdmin := b.isAdmin
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"is_admin": isAdmin})
}
