package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"saldobot/internal/usecases"
)

// WhatsAppSession is the part of the chat transport the API exposes for pairing
type WhatsAppSession interface {
	GetQR() string
	IsConnected() bool
	IsLoggedIn() bool
	GetPhoneNumber() string
	Logout(ctx context.Context) error
}

type Handler struct {
	balances     *usecases.BalanceService
	whatsapp     WhatsAppSession
	cacheHealthy func() bool
	logger       *slog.Logger
}

func NewHandler(balances *usecases.BalanceService, whatsapp WhatsAppSession, cacheHealthy func() bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		balances:     balances,
		whatsapp:     whatsapp,
		cacheHealthy: cacheHealthy,
		logger:       logger.With(slog.String("component", "http")),
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, auth *usecases.AuthUsecase, middleware *Middleware) {
	// Apply Security Middleware
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(1 << 20))
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", h.Health)

	if auth.Enabled() {
		authGroup := r.Group("/api/auth")
		authGroup.Use(middleware.RateLimitPerClient())
		authGroup.POST("/login", func(c *gin.Context) {
			var loginReq struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&loginReq); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := auth.Login(loginReq.Username, loginReq.Password)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}

	api := r.Group("/")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerClient())
	{
		api.POST("/update-balance", h.UpdateBalance)
		api.POST("/send-message", h.UpdateBalance)
		api.GET("/get-balance", h.GetBalance)

		api.GET("/whatsapp/qr", h.GetQRCode)
		api.GET("/whatsapp/status", h.GetWhatsAppStatus)
		api.POST("/whatsapp/logout", h.LogoutWhatsApp)
	}
}

type updateBalanceRequest struct {
	Servicio     string `json:"servicio"`
	NumeroCuenta string `json:"numeroCuenta"`
}

// UpdateBalance sends the trigger text to the service's provider chat
func (h *Handler) UpdateBalance(c *gin.Context) {
	var req updateBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": h.invalidServiceMessage()})
		return
	}
	service := SanitizeString(req.Servicio)
	account := SanitizeString(req.NumeroCuenta)
	if !ValidAccountNumber(account) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "numeroCuenta inválido: use hasta 32 letras, dígitos o guiones."})
		return
	}

	result, err := h.balances.TriggerUpdate(c.Request.Context(), service, account)
	switch {
	case errors.Is(err, usecases.ErrUnknownService):
		c.JSON(http.StatusBadRequest, gin.H{"error": h.invalidServiceMessage()})
		return
	case errors.Is(err, usecases.ErrNoSender):
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No se encontró el número para el servicio %s.", service)})
		return
	case err != nil:
		h.logger.Error("trigger failed", slog.String("service", service), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo enviar el mensaje al servicio."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      result.Message,
		"servicio":     result.Service,
		"numeroCuenta": result.AccountNumber,
		"requestId":    result.RequestID,
	})
}

// GetBalance returns the last cached balance for an account
func (h *Handler) GetBalance(c *gin.Context) {
	service := SanitizeString(c.Query("servicio"))
	account := SanitizeString(c.Query("numeroCuenta"))
	if service == "" || account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Los parámetros servicio y numeroCuenta son obligatorios."})
		return
	}
	if !ValidAccountNumber(account) || len(service) > MaxServiceNameLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Parámetros inválidos."})
		return
	}

	view, err := h.balances.GetBalance(c.Request.Context(), service, account)
	switch {
	case errors.Is(err, usecases.ErrBalanceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No hay saldo registrado para %s con número de cuenta %s.", service, account)})
		return
	case err != nil:
		h.logger.Error("balance read failed", slog.String("service", service), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo consultar el saldo."})
		return
	}

	resp := gin.H{
		"servicio":     view.Service,
		"numeroCuenta": view.AccountNumber,
		"saldo":        view.Balance,
	}
	if !view.Timestamp.IsZero() {
		resp["timestamp"] = view.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if view.Decimal != nil {
		resp["saldoDecimal"] = view.Decimal.StringFixed(2)
	}
	c.JSON(http.StatusOK, resp)
}

// GetQRCode renders the pending pairing code as a PNG
func (h *Handler) GetQRCode(c *gin.Context) {
	if h.whatsapp == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp not configured")
		return
	}
	if h.whatsapp.IsLoggedIn() {
		c.String(http.StatusConflict, "Already paired")
		return
	}

	code := h.whatsapp.GetQR()
	if code == "" {
		c.String(http.StatusNotFound, "QR code not available yet, retry in a few seconds")
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) GetWhatsAppStatus(c *gin.Context) {
	if h.whatsapp == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "logged_in": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected": h.whatsapp.IsConnected(),
		"logged_in": h.whatsapp.IsLoggedIn(),
		"phone":     h.whatsapp.GetPhoneNumber(),
	})
}

// LogoutWhatsApp unlinks the paired device. Pairing again needs a restart.
func (h *Handler) LogoutWhatsApp(c *gin.Context) {
	if h.whatsapp == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp not configured"})
		return
	}
	if !h.whatsapp.IsLoggedIn() {
		c.JSON(http.StatusConflict, gin.H{"error": "No hay una sesión de WhatsApp vinculada."})
		return
	}
	if err := h.whatsapp.Logout(c.Request.Context()); err != nil {
		h.logger.Error("whatsapp logout failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo cerrar la sesión de WhatsApp."})
		return
	}
	h.logger.Info("whatsapp session unlinked")
	c.JSON(http.StatusOK, gin.H{"message": "Sesión de WhatsApp cerrada. Reiniciá el servicio para vincular otro dispositivo."})
}

// Health reports 200 while the process serves requests; dependency state is informational
func (h *Handler) Health(c *gin.Context) {
	cache := "unknown"
	if h.cacheHealthy != nil {
		cache = "down"
		if h.cacheHealthy() {
			cache = "up"
		}
	}
	whatsapp := "down"
	if h.whatsapp != nil && h.whatsapp.IsConnected() {
		whatsapp = "up"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cache": cache, "whatsapp": whatsapp})
}

func (h *Handler) invalidServiceMessage() string {
	return fmt.Sprintf("Servicio no permitido. Usa uno de los siguientes: %s.", strings.Join(h.balances.ServiceNames(), ", "))
}
