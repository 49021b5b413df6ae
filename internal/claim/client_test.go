package claim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/filing"
)

const loginMarker = "formulario de acceso"

// portal fakes the external case-management site: a login endpoint and a
// claim endpoint whose behavior the test controls per request.
type portal struct {
	t      *testing.T
	logins atomic.Int64
	claims atomic.Int64
	claim  func(n int64, w http.ResponseWriter, r *http.Request)
	srv    *httptest.Server
}

func newPortal(t *testing.T, claim func(n int64, w http.ResponseWriter, r *http.Request)) *portal {
	p := &portal{t: t, claim: claim}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		p.logins.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "user1", r.PostForm.Get("usuario"))
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc"})
		_, _ = w.Write([]byte("bienvenido"))
	})
	mux.HandleFunc("/claim", func(w http.ResponseWriter, r *http.Request) {
		p.claim(p.claims.Add(1), w, r)
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *portal) client(t *testing.T, maxAttempts int) *Client {
	session, err := NewSession(SessionConfig{
		LoginURL:    p.srv.URL + "/login",
		Username:    "user1",
		Password:    "secret",
		LoginMarker: loginMarker,
		Timeout:     2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	client, err := New(Config{
		Endpoint:    p.srv.URL + "/claim",
		Identity:    "user1",
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}, session, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestClaimSucceedsOnRedirect(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(_ int64, w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "100", r.PostForm.Get("idRecurso"))
		require.Equal(t, "RRC-2024/000100", r.PostForm.Get("expediente"))
		require.Equal(t, "user1", r.PostForm.Get("usuario"))
		http.Redirect(w, r, "/detalle", http.StatusFound)
	})

	err := p.client(t, 3).Claim(context.Background(), 100, "RRC-2024/000100")
	require.NoError(t, err)
	require.Equal(t, int64(1), p.claims.Load())
	require.Equal(t, int64(1), p.logins.Load())
}

func TestClaimSucceedsOnPlainOK(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("recurso asignado"))
	})

	err := p.client(t, 3).Claim(context.Background(), 100, "RRC-2024/000100")
	require.NoError(t, err)
}

func TestClaimOwnershipConflictIsPermanent(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("el recurso está asignado a otro usuario"))
	})

	err := p.client(t, 3).Claim(context.Background(), 100, "RRC-2024/000100")
	require.ErrorIs(t, err, filing.ErrOwnershipConflict)
	// Never retried.
	require.Equal(t, int64(1), p.claims.Load())
}

func TestClaimBodyMarkersMatchAnyCase(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("El recurso está Asignado A Otro Usuario"))
	})

	err := p.client(t, 3).Claim(context.Background(), 100, "RRC-2024/000100")
	require.ErrorIs(t, err, filing.ErrOwnershipConflict)
	require.Equal(t, int64(1), p.claims.Load())
}

func TestClaimErrorMarkerIsPermanent(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Ha Ocurrido Un Error al tramitar la solicitud"))
	})

	err := p.client(t, 3).Claim(context.Background(), 100, "RRC-2024/000100")
	require.ErrorIs(t, err, filing.ErrClaimRejected)
	// The external system already answered; retrying cannot change it.
	require.Equal(t, int64(1), p.claims.Load())
}

func TestClaimReauthenticatesOnceOnExpiredSession(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(n int64, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			_, _ = w.Write([]byte(loginMarker))
			return
		}
		_, _ = w.Write([]byte("recurso asignado"))
	})

	err := p.client(t, 3).Claim(context.Background(), 100, "RRC-2024/000100")
	require.NoError(t, err)
	require.Equal(t, int64(2), p.claims.Load())
	// Initial login plus one refresh.
	require.Equal(t, int64(2), p.logins.Load())
}

func TestClaimGivesUpWhenSessionKeepsExpiring(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(loginMarker))
	})

	err := p.client(t, 2).Claim(context.Background(), 100, "RRC-2024/000100")
	require.Error(t, err)
	require.NotErrorIs(t, err, filing.ErrOwnershipConflict)
}

func TestClaimRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(n int64, w http.ResponseWriter, _ *http.Request) {
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recurso asignado"))
	})

	err := p.client(t, 3).Claim(context.Background(), 100, "RRC-2024/000100")
	require.NoError(t, err)
	require.Equal(t, int64(3), p.claims.Load())
}

func TestClaimExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()

	p := newPortal(t, func(_ int64, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := p.client(t, 2).Claim(context.Background(), 100, "RRC-2024/000100")
	require.Error(t, err)
	require.Equal(t, int64(2), p.claims.Load())
}

func TestSessionLoginRejectedCredentials(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(loginMarker))
	}))
	t.Cleanup(srv.Close)

	session, err := NewSession(SessionConfig{
		LoginURL:    srv.URL,
		Username:    "user1",
		Password:    "wrong",
		LoginMarker: loginMarker,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = session.Client(context.Background())
	require.Error(t, err)
}
