package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
)

func TestDealHandler_Create_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &DealHandler{deals: nil}
	r.POST("/deals", handler.Create)

	req, _ := http.NewRequest("POST", "/deals", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDealHandler_Get_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &DealHandler{deals: nil}
	r.GET("/deals/:id", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		handler.Get(c)
	})

	req, _ := http.NewRequest("GET", "/deals/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDealHandler_Pay_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &DealHandler{deals: nil}
	r.POST("/deals/:id/pay", handler.Pay)

	req, _ := http.NewRequest("POST", "/deals/"+uuid.NewString()+"/pay", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDealHandler_Create_InvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &DealHandler{deals: nil}
	r.POST("/deals", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		c.Set(middleware.ContextRoleKey, "client")
		handler.Create(c)
	})

	req, _ := http.NewRequest("POST", "/deals", nil)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDealHandler_Create_AdminForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &DealHandler{deals: nil}
	r.POST("/deals", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		c.Set(middleware.ContextRoleKey, "admin")
		handler.Create(c)
	})

	body := `{"chat_room_id":"` + uuid.NewString() + `","counterpart_id":"` + uuid.NewString() + `","title":"Логотип","price":"1000"}`
	req, _ := http.NewRequest("POST", "/deals", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
