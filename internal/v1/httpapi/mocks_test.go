package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/battle"
	"github.com/bitwar/backend/go/internal/v1/rooms"
	"github.com/bitwar/backend/go/internal/v1/types"
)

type stubValidator struct{}

func (s *stubValidator) ValidateToken(token string) (*auth.CustomClaims, error) {
	return &auth.CustomClaims{Username: token}, nil
}

type fakeRoomService struct {
	room         *types.Room
	infos        []types.RoomInfo
	participants []types.Participant
	participant  *types.Participant
	startResult  *rooms.StartResult
	err          error

	createOwner  string
	createParams rooms.CreateParams
	joinPassword string
	kickBy       string
	kickTarget   string
	startBy      string
	statusBy     string
	statusTo     types.RoomStatus
}

func (f *fakeRoomService) Create(ctx context.Context, owner string, p rooms.CreateParams) (*types.Room, error) {
	f.createOwner, f.createParams = owner, p
	return f.room, f.err
}

func (f *fakeRoomService) ListActive(ctx context.Context) ([]types.RoomInfo, error) {
	return f.infos, f.err
}

func (f *fakeRoomService) Get(ctx context.Context, roomID string) (*types.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.room, nil
}

func (f *fakeRoomService) Participants(ctx context.Context, roomID string) ([]types.Participant, error) {
	return f.participants, nil
}

func (f *fakeRoomService) Join(ctx context.Context, roomID, username, password string) (*types.Participant, error) {
	f.joinPassword = password
	if f.err != nil {
		return nil, f.err
	}
	return f.participant, nil
}

func (f *fakeRoomService) Kick(ctx context.Context, roomID, by, target string) error {
	f.kickBy, f.kickTarget = by, target
	return f.err
}

func (f *fakeRoomService) Start(ctx context.Context, roomID, username string) (*rooms.StartResult, error) {
	f.startBy = username
	if f.err != nil {
		return nil, f.err
	}
	return f.startResult, nil
}

func (f *fakeRoomService) UpdateStatus(ctx context.Context, roomID, by string, status types.RoomStatus) error {
	f.statusBy, f.statusTo = by, status
	return f.err
}

type fakeBattleService struct {
	detail   *battle.QuestionDetail
	result   *battle.SubmitResult
	rankings []types.Ranking
	err      error

	submitRoomID   string
	submitUsername string
	submitQID      int64
	submitCode     string
	submitLanguage string
}

func (f *fakeBattleService) Question(ctx context.Context, id int64) (*battle.QuestionDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.detail, nil
}

func (f *fakeBattleService) Submit(ctx context.Context, roomID, username string, questionID int64, code, language string) (*battle.SubmitResult, error) {
	f.submitRoomID, f.submitUsername = roomID, username
	f.submitQID, f.submitCode, f.submitLanguage = questionID, code, language
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeBattleService) GlobalRankings(ctx context.Context) ([]types.Ranking, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rankings, nil
}

func newAPIRouter(roomSvc RoomService, battleSvc BattleService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r, NewHandler(roomSvc, battleSvc), &stubValidator{}, nil)
	return r
}

// doJSON performs an authenticated request as the given user. The stub
// validator turns the bearer token into the username.
func doJSON(t *testing.T, r *gin.Engine, method, path, username string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if username != "" {
		req.Header.Set("Authorization", "Bearer "+username)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}
