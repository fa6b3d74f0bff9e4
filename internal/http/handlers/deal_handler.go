package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/storage"
)

// DealHandler обслуживает REST API сделок.
type DealHandler struct {
	deals   *service.DealService
	storage *storage.AttachmentStorage
}

func NewDealHandler(deals *service.DealService, storage *storage.AttachmentStorage) *DealHandler {
	return &DealHandler{deals: deals, storage: storage}
}

// Create обрабатывает POST /deals.
func (h *DealHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	role, err := common.CurrentUserRole(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req dto.CreateDealRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	// Роли сторон выводятся из роли автора: заказчик создаёт сделку
	// с исполнителем, исполнитель — предложение заказчику.
	input := service.CreateDealInput{
		ChatRoomID:  req.ChatRoomID,
		ActorID:     userID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
	}
	switch role {
	case service.RoleClient:
		input.ClientID = userID
		input.WorkerID = req.CounterpartID
	case service.RoleWorker:
		input.ClientID = req.CounterpartID
		input.WorkerID = userID
	default:
		common.RespondError(c, http.StatusForbidden, "создавать сделки могут только заказчики и исполнители")
		return
	}

	deal, err := h.deals.CreateDeal(c.Request.Context(), input)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewDealResponse(deal))
}

// List обрабатывает GET /deals.
func (h *DealHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	deals, err := h.deals.ListUserDeals(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealListResponse(deals))
}

// Get обрабатывает GET /deals/:id.
func (h *DealHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deal, err := h.deals.GetDeal(c.Request.Context(), dealID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealResponse(deal))
}

// ListByChatRoom обрабатывает GET /chat-rooms/:id/deals.
func (h *DealHandler) ListByChatRoom(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	roomID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deals, err := h.deals.ListChatRoomDeals(c.Request.Context(), roomID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealListResponse(deals))
}

// Transactions обрабатывает GET /deals/:id/transactions.
func (h *DealHandler) Transactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	transactions, err := h.deals.ListDealTransactions(c.Request.Context(), dealID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, transactions)
}

// Attachments обрабатывает GET /deals/:id/attachments.
func (h *DealHandler) Attachments(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	attachments, err := h.deals.ListDeliveryAttachments(c.Request.Context(), dealID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, attachments)
}

// UpdatePrice обрабатывает PATCH /deals/:id/price.
func (h *DealHandler) UpdatePrice(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.UpdatePriceRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deal, err := h.deals.UpdatePrice(c.Request.Context(), dealID, userID, req.Price)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealResponse(deal))
}

// Pay обрабатывает POST /deals/:id/pay.
func (h *DealHandler) Pay(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deal, err := h.deals.Pay(c.Request.Context(), dealID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealResponse(deal))
}

// Deliver обрабатывает POST /deals/:id/deliver (multipart).
// Поле message — сообщение о сдаче, files — вложения результата.
func (h *DealHandler) Deliver(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		common.RespondBadRequest(c, "ожидается multipart/form-data")
		return
	}

	message := c.PostForm("message")
	var attachments []models.DeliveryAttachment
	var savedPaths []string

	for _, file := range form.File["files"] {
		if file.Size == 0 {
			common.RespondBadRequest(c, "файл не может быть пустым")
			return
		}

		src, err := file.Open()
		if err != nil {
			common.RespondAppError(c, err)
			return
		}

		// Определяем реальный тип по магическим байтам, а не по расширению.
		buffer := make([]byte, 512)
		n, err := src.Read(buffer)
		if err != nil && err != io.EOF {
			src.Close()
			common.RespondBadRequest(c, "не удалось прочитать файл")
			return
		}
		kind, err := filetype.Match(buffer[:n])
		if err != nil || kind == filetype.Unknown {
			src.Close()
			common.RespondBadRequest(c, "не удалось определить тип файла "+file.Filename)
			return
		}
		if seeker, ok := src.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				src.Close()
				common.RespondAppError(c, err)
				return
			}
		}

		relativePath, size, err := h.storage.Save(c.Request.Context(), dealID, file.Filename, src)
		src.Close()
		if err != nil {
			h.cleanupSaved(c, savedPaths)
			common.RespondAppError(c, err)
			return
		}
		savedPaths = append(savedPaths, relativePath)

		attachments = append(attachments, models.DeliveryAttachment{
			Filename:    file.Filename,
			StoragePath: relativePath,
			FileSize:    size,
			ContentType: kind.MIME.Value,
		})
	}

	deal, err := h.deals.Deliver(c.Request.Context(), service.DeliverInput{
		DealID:      dealID,
		ActorID:     userID,
		Message:     message,
		Attachments: attachments,
	})
	if err != nil {
		// Переход не состоялся, подчищаем уже сохранённые файлы.
		h.cleanupSaved(c, savedPaths)
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealResponse(deal))
}

func (h *DealHandler) cleanupSaved(c *gin.Context, paths []string) {
	for _, p := range paths {
		_ = h.storage.Delete(c.Request.Context(), p)
	}
}

// RequestRevision обрабатывает POST /deals/:id/revision.
func (h *DealHandler) RequestRevision(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.RequestRevisionRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	deal, err := h.deals.RequestRevision(c.Request.Context(), dealID, userID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealResponse(deal))
}

// Complete обрабатывает POST /deals/:id/complete.
func (h *DealHandler) Complete(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.CompleteDealRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deal, err := h.deals.Complete(c.Request.Context(), service.CompleteInput{
		DealID:  dealID,
		ActorID: userID,
		Message: req.Message,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealResponse(deal))
}

// Cancel обрабатывает POST /deals/:id/cancel.
func (h *DealHandler) Cancel(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.CancelDealRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	deal, err := h.deals.Cancel(c.Request.Context(), dealID, userID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDealResponse(deal))
}
