package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bitwar/backend/go/internal/v1/battle"
	"github.com/bitwar/backend/go/internal/v1/middleware"
)

// verifyResponse flattens the submission result under the legacy
// "Verification completed." envelope clients already parse.
type verifyResponse struct {
	Message string `json:"message"`
	*battle.SubmitResult
}

// GetQuestion returns a question with its test cases.
// GET /battle/:qid
func (h *Handler) GetQuestion(c *gin.Context) {
	qid, err := strconv.ParseInt(c.Param("qid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid question id"})
		return
	}

	detail, err := h.battle.Question(c.Request.Context(), qid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// VerifyCode judges a submission for the caller's active battle. An accepted
// submission takes the next finishing position and may complete the battle.
// POST /battle/:qid/verify
func (h *Handler) VerifyCode(c *gin.Context) {
	username := middleware.Username(c)
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	qid, err := strconv.ParseInt(c.Param("qid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid question id"})
		return
	}

	var req struct {
		Code     string `json:"code"`
		Language string `json:"language"`
		RoomID   string `json:"room_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Code == "" || req.Language == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code or language required"})
		return
	}
	if req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id required"})
		return
	}

	res, err := h.battle.Submit(c.Request.Context(), req.RoomID, username, qid, req.Code, req.Language)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Message: "Verification completed.", SubmitResult: res})
}

// GlobalRankings returns the active season's top ratings.
// GET /battle/global-rankings
func (h *Handler) GlobalRankings(c *gin.Context) {
	rankings, err := h.battle.GlobalRankings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": rankings})
}
