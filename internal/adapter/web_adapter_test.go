package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/filing"
)

const caseListHTML = `<html><body><table>
<tr class="recurso" data-id="101" data-estado="libre">
  <td class="expediente">rrc 2024/101</td>
  <td class="interesado">PEREZ LOPEZ, MARIA</td>
  <td class="domicilio">C/ Mayor, 5</td>
</tr>
<tr class="recurso" data-id="102" data-estado="asignado" data-asignado="user1">
  <td class="expediente">RRC-2024/000102</td>
  <td class="interesado">GARCIA RUIZ, JUAN</td>
  <td class="domicilio">Avda. Libertad, 12</td>
</tr>
<tr class="recurso" data-id="105" data-estado="asignado" data-asignado="user2">
  <td class="expediente">RRC-2024/000105</td>
  <td class="interesado">DIAZ VEGA, LUIS</td>
  <td class="domicilio">C/ Sol, 3</td>
</tr>
<tr class="recurso" data-id="103" data-estado="libre" data-autorizacion="gesdoc">
  <td class="expediente">RRC-2024/000103</td>
  <td class="interesado">SANZ GIL, ANA</td>
  <td class="domicilio">Pza. Espana, 1</td>
</tr>
<tr class="recurso" data-id="nope">
  <td class="expediente">broken</td>
</tr>
<tr class="recurso" data-id="104" data-estado="libre">
  <td class="expediente">not a case number</td>
</tr>
</table></body></html>`

type fakeJarProvider struct {
	client *http.Client
	err    error
}

func (p *fakeJarProvider) Client(context.Context) (*http.Client, error) {
	return p.client, p.err
}

func newWebFixture(t *testing.T, handler http.Handler) *WebAdapter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	adapter, err := NewWebAdapter(
		WebAdapterConfig{
			Source:   "sanciones",
			ListURL:  server.URL + "/listado",
			Protocol: "abbreviated",
			Timeout:  5 * time.Second,
		},
		&fakeJarProvider{client: &http.Client{Jar: jar}},
		&fakeClaimClient{identity: "user1"},
		nil,
		zap.NewNop(),
	)
	require.NoError(t, err)
	return adapter
}

func TestWebAdapterFetchCandidatesParsesRows(t *testing.T) {
	t.Parallel()

	adapter := newWebFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, caseListHTML)
	}))

	resources, err := adapter.FetchCandidates(context.Background(), 10)
	require.NoError(t, err)
	// Rows with a bad id, an unrepairable case number, or a claim held by
	// another identity are dropped; free rows come before claimed-by-self.
	require.Len(t, resources, 3)

	require.Equal(t, int64(101), resources[0].ResourceID)
	require.Equal(t, "RRC-2024/000101", resources[0].CaseNumber)
	require.Equal(t, filing.ResourceFree, resources[0].State)
	require.Equal(t, "PEREZ LOPEZ, MARIA", resources[0].Claimant)
	require.Equal(t, filing.ProtocolTag("abbreviated"), resources[0].Protocol)

	require.Equal(t, int64(103), resources[1].ResourceID)
	require.True(t, resources[1].NeedsAuthorization)
	require.Equal(t, "gesdoc", resources[1].AuthorizationType)

	require.Equal(t, int64(102), resources[2].ResourceID)
	require.Equal(t, filing.ResourceClaimed, resources[2].State)
	require.Equal(t, "user1", resources[2].ClaimedBy)
}

func TestWebAdapterExcludesForeignClaims(t *testing.T) {
	t.Parallel()

	adapter := newWebFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<table><tr class="recurso" data-id="201" data-estado="asignado" data-asignado="user2">
  <td class="expediente">RRC-2024/000201</td>
</tr></table>`)
	}))

	resources, err := adapter.FetchCandidates(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, resources)
}

func TestWebAdapterFetchCandidatesHonorsLimit(t *testing.T) {
	t.Parallel()

	adapter := newWebFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, caseListHTML)
	}))

	resources, err := adapter.FetchCandidates(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	require.Equal(t, int64(101), resources[0].ResourceID)

	resources, err = adapter.FetchCandidates(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, resources)
}

func TestWebAdapterMapsUnauthorizedToSessionExpired(t *testing.T) {
	t.Parallel()

	adapter := newWebFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := adapter.FetchCandidates(context.Background(), 10)
	require.ErrorIs(t, err, filing.ErrSessionExpired)
}

func TestWebAdapterPropagatesSessionFailure(t *testing.T) {
	t.Parallel()

	adapter, err := NewWebAdapter(
		WebAdapterConfig{Source: "sanciones", ListURL: "http://127.0.0.1:1/listado", Protocol: "abbreviated"},
		&fakeJarProvider{err: fmt.Errorf("login rejected")},
		&fakeClaimClient{identity: "user1"},
		nil,
		zap.NewNop(),
	)
	require.NoError(t, err)

	_, err = adapter.FetchCandidates(context.Background(), 10)
	require.ErrorContains(t, err, "login rejected")
}
