package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

const (
	sessionCookie = "kubex-hibernate-session"
	sessionTTL    = 24 * time.Hour
)

// publicPaths are served without a session.
var publicPaths = map[string]bool{
	"/api/login":  true,
	"/api/logout": true,
	"/api/health": true,
	"/api/live":   true,
	"/api/ready":  true,
}

// Auth is session-cookie authentication for a single admin account. It is
// disabled (dev mode) while Password is empty.
type Auth struct {
	User     string
	Password string
	Clock    clock.PassiveClock
}

func (a *Auth) enabled() bool {
	return a != nil && a.User != "" && a.Password != ""
}

func (a *Auth) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock.Now()
}

func (a *Auth) key() []byte {
	return []byte(a.Password + "-kubex-hibernate-hmac-key")
}

// Middleware rejects /api/* requests without a valid session cookie.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if !a.enabled() || publicPaths[path] || !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookie)
		if err != nil || !a.validateSession(cookie.Value) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleLogin processes POST /api/login.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.enabled() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userOK := hmac.Equal([]byte(creds.Username), []byte(a.User))
	passwordOK := hmac.Equal([]byte(creds.Password), []byte(a.Password))
	if !userOK || !passwordOK {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    a.generateSession(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogout clears the session cookie.
func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// generateSession returns "unix-timestamp.hmac(timestamp)".
func (a *Auth) generateSession() string {
	ts := fmt.Sprintf("%d", a.now().Unix())
	return ts + "." + a.sign(ts)
}

func (a *Auth) validateSession(token string) bool {
	ts, sig, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}

	var issued int64
	if _, err := fmt.Sscanf(ts, "%d", &issued); err != nil {
		return false
	}
	if a.now().Sub(time.Unix(issued, 0)) > sessionTTL {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(a.sign(ts)))
}

func (a *Auth) sign(ts string) string {
	mac := hmac.New(sha256.New, a.key())
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))
}
