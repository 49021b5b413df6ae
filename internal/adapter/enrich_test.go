package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddressLocalIsDeterministic(t *testing.T) {
	t.Parallel()

	input := "  c/ mayor, 5  2º "
	first := NormalizeAddressLocal(input)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, NormalizeAddressLocal(input))
	}
	require.Equal(t, "CALLE MAYOR, 5 2º", first)
}

func TestNormalizeAddressLocalExpandsAbbreviations(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"avda. de la constitución 1": "AVENIDA DE LA CONSTITUCIÓN 1",
		"pza. españa nº3":            "PLAZA ESPAÑA NUMERO 3",
		"ctra. nacional II km 20":    "CARRETERA NACIONAL II KM 20",
	}
	for input, want := range cases {
		require.Equalf(t, want, NormalizeAddressLocal(input), "input %q", input)
	}
}

func TestHTTPEnricherNormalize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address string `json:"address"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "c/ mayor 5", req.Address)
		_ = json.NewEncoder(w).Encode(map[string]string{"normalized": "CALLE MAYOR 5"})
	}))
	defer srv.Close()

	enricher := NewHTTPEnricher(srv.URL, time.Second)
	got, err := enricher.Normalize(context.Background(), "c/ mayor 5")
	require.NoError(t, err)
	require.Equal(t, "CALLE MAYOR 5", got)
}

func TestHTTPEnricherRejectsBadResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	enricher := NewHTTPEnricher(srv.URL, time.Second)
	_, err := enricher.Normalize(context.Background(), "c/ mayor 5")
	require.Error(t, err)
}
