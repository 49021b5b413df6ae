package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlorentegh/tramitador/internal/filing"
)

func newTestChromedp(t *testing.T, cfg Config) *Chromedp {
	t.Helper()

	if cfg.PortalURLs == nil {
		cfg.PortalURLs = map[filing.ProtocolTag]string{"ordinary": "https://portal.example/form"}
	}
	eng, err := NewChromedp(cfg)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func TestNewChromedpRequiresPortalURLs(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{})
	require.Error(t, err)
}

func TestNewChromedpAppliesDefaults(t *testing.T) {
	t.Parallel()

	eng := newTestChromedp(t, Config{})
	require.Equal(t, 60*time.Second, eng.cfg.NavigationTimeout)
	require.Equal(t, "presentado correctamente", eng.cfg.SuccessMarker)
	require.Equal(t, "ha ocurrido un error", eng.cfg.ErrorMarker)
}

func TestClassifyResultMatchesMarkersAnyCase(t *testing.T) {
	t.Parallel()

	// Markers configured with uppercase letters must still match.
	eng := newTestChromedp(t, Config{
		SuccessMarker: "Presentado Correctamente",
		ErrorMarker:   "Ha Ocurrido Un Error",
	})

	ok := eng.classifyResult("  El recurso ha sido presentado correctamente.  ", []byte("png"))
	require.True(t, ok.Completed)
	require.Equal(t, "El recurso ha sido presentado correctamente.", ok.Result)
	require.Equal(t, "resultado.png", ok.ArtifactName)

	rejected := eng.classifyResult("HA OCURRIDO UN ERROR al registrar la solicitud", nil)
	require.False(t, rejected.Completed)
	require.Equal(t, "HA OCURRIDO UN ERROR al registrar la solicitud", rejected.ErrorText)

	unknown := eng.classifyResult("respuesta inesperada", nil)
	require.False(t, unknown.Completed)
	require.Contains(t, unknown.ErrorText, "unrecognized portal response")
}
