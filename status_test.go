package panelkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusSource struct {
	summary StatusSummary
	boards  []BoardStatus
}

func (fs *fakeStatusSource) StatusSummary() StatusSummary { return fs.summary }
func (fs *fakeStatusSource) BoardStatuses() []BoardStatus { return fs.boards }

func TestStatusServerRoutes(t *testing.T) {
	power := 1500.0
	source := &fakeStatusSource{
		summary: StatusSummary{
			Name:     "panelkit",
			Version:  "1.2.0",
			Boards:   2,
			Rebuilds: 3,
		},
		boards: []BoardStatus{
			{
				Serial: "SB100", Name: "Basis Panel SB100", Model: "GEN1",
				Connected: true, LiveOk: true,
				PowerW: &power,
				Energy: &BoardEnergy{Today: EnergyWindow{ImportKwh: 8.2, ExportKwh: 2.4}},
			},
			{Serial: "SB200", Name: "Basis Panel SB200", Model: "GEN1", LiveError: "cloud unreachable"},
		},
	}
	server := httptest.NewServer(NewStatusServer("", source).router())
	defer server.Close()

	t.Run("Status", func(t *testing.T) {
		res, err := http.Get(server.URL + "/status")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

		var summary StatusSummary
		require.NoError(t, json.NewDecoder(res.Body).Decode(&summary))
		assert.Equal(t, "1.2.0", summary.Version)
		assert.Equal(t, 2, summary.Boards)
		assert.Equal(t, 3, summary.Rebuilds)
	})

	t.Run("Boards", func(t *testing.T) {
		res, err := http.Get(server.URL + "/boards")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var boards []BoardStatus
		require.NoError(t, json.NewDecoder(res.Body).Decode(&boards))
		require.Len(t, boards, 2)
		assert.Equal(t, "SB100", boards[0].Serial)
		assert.True(t, boards[0].LiveOk)
		require.NotNil(t, boards[0].PowerW)
		assert.Equal(t, 1500.0, *boards[0].PowerW)
		require.NotNil(t, boards[0].Energy)
		assert.Equal(t, 8.2, boards[0].Energy.Today.ImportKwh)
		assert.Nil(t, boards[1].PowerW)
		assert.Equal(t, "cloud unreachable", boards[1].LiveError)
	})

	t.Run("SingleBoard", func(t *testing.T) {
		res, err := http.Get(server.URL + "/boards/SB200")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var board BoardStatus
		require.NoError(t, json.NewDecoder(res.Body).Decode(&board))
		assert.Equal(t, "SB200", board.Serial)
		assert.False(t, board.LiveOk)
	})

	t.Run("UnknownBoard", func(t *testing.T) {
		res, err := http.Get(server.URL + "/boards/SB999")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestStatusServerCloseBeforeStart(t *testing.T) {
	server := NewStatusServer("127.0.0.1:0", &fakeStatusSource{})
	assert.NoError(t, server.Close())
}
